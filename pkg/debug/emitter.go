package debug

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ilkoid/vaultmind/pkg/events"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

// TraceEmitter - events.Emitter, который пишет трейс каждого run в LogsDir.
//
// Recorder создаётся на первое событие run и сохраняется на финальном
// (done, cancelled или terminal error).
type TraceEmitter struct {
	cfg RecorderConfig

	mu   sync.Mutex
	runs map[string]*Recorder

	// onSaved вызывается с путём сохранённого трейса (для тестов и логов)
	onSaved func(path string)
}

// NewTraceEmitter создаёт TraceEmitter. LogsDir создаётся при необходимости.
func NewTraceEmitter(cfg RecorderConfig) (*TraceEmitter, error) {
	if cfg.LogsDir != "" {
		if err := os.MkdirAll(cfg.LogsDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create traces directory: %w", err)
		}
	}
	return &TraceEmitter{
		cfg:  cfg,
		runs: make(map[string]*Recorder),
	}, nil
}

// OnSaved задаёт callback для сохранённых трейсов.
func (t *TraceEmitter) OnSaved(fn func(path string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSaved = fn
}

// Active возвращает количество незавершённых run.
func (t *TraceEmitter) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.runs)
}

// Emit implements events.Emitter.
func (t *TraceEmitter) Emit(_ context.Context, ev events.Event) {
	if ev.RunID == "" {
		return
	}
	rec := t.recorder(ev)

	switch data := ev.Data.(type) {
	case events.ThinkingData:
		rec.Start(data.Query)
		rec.RecordTurn(data.Turn)

	case events.TextChunkData:
		if ev.Type == events.EventTextChunk {
			rec.RecordText(data.Accumulated)
		}

	case events.ToolCallData:
		rec.RecordToolCall(data.ToolName, data.Priority, data.Args)

	case events.ToolResultData:
		rec.RecordToolResult(data.ToolName, data.Success, data.Error, data.Duration)

	case events.PermissionData:
		rec.RecordPermission(data.ID, data.ToolName, data.Status)

	case events.ErrorData:
		msg := "unknown error"
		if data.Err != nil {
			msg = data.Err.Error()
		}
		if !data.Terminal {
			rec.RecordError(msg)
			return
		}
		t.finish(ev, rec, "failed", "", msg)

	case events.MessageData:
		if ev.Type == events.EventDone || ev.Type == events.EventCancelled {
			t.finish(ev, rec, data.State, data.Content, "")
		}
	}
}

func (t *TraceEmitter) recorder(ev events.Event) *Recorder {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.runs[ev.RunID]
	if !ok {
		rec = NewRecorder(t.cfg, ev.SessionID, ev.RunID, ev.Timestamp)
		t.runs[ev.RunID] = rec
	}
	return rec
}

func (t *TraceEmitter) finish(ev events.Event, rec *Recorder, state, result, errMsg string) {
	t.mu.Lock()
	delete(t.runs, ev.RunID)
	onSaved := t.onSaved
	t.mu.Unlock()

	path, err := rec.Finalize(state, result, errMsg, ev.Timestamp)
	if err != nil {
		utils.Error("Failed to save run trace", "run_id", ev.RunID, "error", err)
		return
	}
	utils.Debug("Run trace saved", "run_id", ev.RunID, "path", path)
	if onSaved != nil {
		onSaved(path)
	}
}
