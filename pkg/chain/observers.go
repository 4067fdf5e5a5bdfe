package chain

import (
	"context"
	"errors"

	"github.com/ilkoid/vaultmind/pkg/events"
	"github.com/ilkoid/vaultmind/pkg/llm"
)

// EmitterObserver отправляет события одного run в events.Emitter.
//
// Port & Adapter: Orchestrator не знает про TUI или SSE, он вызывает
// методы наблюдателя, а тот адресует события сессии и run.
// Nil emitter допустим: все методы становятся no-op.
type EmitterObserver struct {
	emitter   events.Emitter
	sessionID string
	runID     string
}

// NewEmitterObserver создаёт наблюдателя для run.
func NewEmitterObserver(emitter events.Emitter, sessionID, runID string) *EmitterObserver {
	return &EmitterObserver{emitter: emitter, sessionID: sessionID, runID: runID}
}

func (o *EmitterObserver) emit(ctx context.Context, t events.EventType, data events.EventData) {
	if o.emitter == nil {
		return
	}
	ev := events.New(t, data)
	ev.SessionID = o.sessionID
	ev.RunID = o.runID
	o.emitter.Emit(ctx, ev)
}

// EmitThinking - модель получила запрос.
func (o *EmitterObserver) EmitThinking(ctx context.Context, query string, turn int) {
	o.emit(ctx, events.EventThinking, events.ThinkingData{Query: query, Turn: turn})
}

// EmitChunk пересылает чанк стрима.
func (o *EmitterObserver) EmitChunk(ctx context.Context, chunk llm.StreamChunk, accumulated string) {
	if chunk.Thought != "" {
		o.emit(ctx, events.EventThinkingChunk, events.TextChunkData{Chunk: chunk.Thought})
	}
	if chunk.Text != "" {
		o.emit(ctx, events.EventTextChunk, events.TextChunkData{Chunk: chunk.Text, Accumulated: accumulated})
	}
}

// EmitProgress пересылает статус длительного инструмента.
func (o *EmitterObserver) EmitProgress(ctx context.Context, status, phase string) {
	o.emit(ctx, events.EventProgress, events.ProgressData{Status: status, Phase: phase})
}

// EmitError сообщает о некритичной ошибке (например, персистентности).
func (o *EmitterObserver) EmitError(ctx context.Context, err error) {
	o.emit(ctx, events.EventError, events.ErrorData{Err: err})
}

// OnFinish отправляет финальное событие run.
//
// Cancelled → EventCancelled, Failed → EventError, остальные → EventMessage + EventDone.
func (o *EmitterObserver) OnFinish(ctx context.Context, out RunOutput, err error) {
	// Контекст run может быть уже отменён, финальное событие всё равно нужно
	ctx = context.WithoutCancel(ctx)

	switch out.State {
	case StateCancelled:
		o.emit(ctx, events.EventCancelled, events.MessageData{Content: out.Text, State: out.State.String()})
	case StateFailed:
		if err == nil {
			err = errors.New("run failed")
		}
		o.emit(ctx, events.EventError, events.ErrorData{Err: err, Terminal: true})
	default:
		o.emit(ctx, events.EventMessage, events.MessageData{Content: out.Text, State: out.State.String()})
		o.emit(ctx, events.EventDone, events.MessageData{Content: out.Text, State: out.State.String()})
	}
}
