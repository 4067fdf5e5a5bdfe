package debug

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/vaultmind/pkg/events"
)

func runEvent(runID string, at time.Time, t events.EventType, data events.EventData) events.Event {
	return events.Event{Type: t, Data: data, SessionID: "sess-1", RunID: runID, Timestamp: at}
}

func readTrace(t *testing.T, path string) RunTrace {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var trace RunTrace
	require.NoError(t, json.Unmarshal(data, &trace))
	return trace
}

func TestTraceEmitter_ToolRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "traces")
	tracer, err := NewTraceEmitter(RecorderConfig{LogsDir: dir, IncludeToolArgs: true})
	require.NoError(t, err)

	var saved []string
	tracer.OnSaved(func(path string) { saved = append(saved, path) })

	ctx := context.Background()
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	emit := func(offset time.Duration, typ events.EventType, data events.EventData) {
		tracer.Emit(ctx, runEvent("run-1", start.Add(offset), typ, data))
	}

	emit(0, events.EventThinking, events.ThinkingData{Query: "удали старые заметки", Turn: 1})
	emit(10*time.Millisecond, events.EventToolCall, events.ToolCallData{ToolName: "list_files", Priority: "read_only"})
	emit(20*time.Millisecond, events.EventToolCall, events.ToolCallData{ToolName: "delete_file", Priority: "destructive", Args: map[string]any{"path": "old.md"}})
	emit(30*time.Millisecond, events.EventToolResult, events.ToolResultData{ToolName: "list_files", Success: true, Duration: 5 * time.Millisecond})
	emit(40*time.Millisecond, events.EventPermissionRequest, events.PermissionData{ID: "p1", ToolName: "delete_file", Status: "pending"})
	emit(50*time.Millisecond, events.EventPermissionResolved, events.PermissionData{ID: "p1", ToolName: "delete_file", Status: "denied"})
	emit(60*time.Millisecond, events.EventToolResult, events.ToolResultData{ToolName: "delete_file", Error: "denied by user"})
	emit(70*time.Millisecond, events.EventThinking, events.ThinkingData{Query: "удали старые заметки", Turn: 2})
	emit(80*time.Millisecond, events.EventTextChunk, events.TextChunkData{Chunk: "Не ", Accumulated: "Не "})
	emit(90*time.Millisecond, events.EventTextChunk, events.TextChunkData{Chunk: "удалено.", Accumulated: "Не удалено."})
	emit(95*time.Millisecond, events.EventMessage, events.MessageData{Content: "Не удалено.", State: "done"})
	assert.Equal(t, 1, tracer.Active(), "message alone does not finish the run")
	emit(100*time.Millisecond, events.EventDone, events.MessageData{Content: "Не удалено.", State: "done"})

	require.Len(t, saved, 1)
	assert.Equal(t, filepath.Join(dir, "run-1.json"), saved[0])
	assert.Zero(t, tracer.Active())

	trace := readTrace(t, saved[0])
	assert.Equal(t, "sess-1", trace.SessionID)
	assert.Equal(t, "удали старые заметки", trace.UserQuery)
	assert.Equal(t, "done", trace.State)
	assert.Equal(t, "Не удалено.", trace.FinalResult)
	assert.Equal(t, int64(100), trace.Duration)

	require.Len(t, trace.Turns, 2)
	first := trace.Turns[0]
	require.Len(t, first.ToolsExecuted, 2)
	assert.Equal(t, ToolExecution{Name: "list_files", Priority: "read_only", Duration: 5, Success: true, Completed: true}, first.ToolsExecuted[0])
	assert.Equal(t, `{"path":"old.md"}`, first.ToolsExecuted[1].Args)
	assert.Equal(t, "denied by user", first.ToolsExecuted[1].Error)
	assert.Equal(t, []PermissionEntry{{ID: "p1", ToolName: "delete_file", Status: "denied"}}, first.Permissions)
	assert.Equal(t, "Не удалено.", trace.Turns[1].Text)

	assert.Equal(t, 2, trace.Summary.TotalTurns)
	assert.Equal(t, 2, trace.Summary.TotalToolsExecuted)
	assert.Equal(t, []string{"delete_file", "list_files"}, trace.Summary.VisitedTools)
	assert.Equal(t, []string{"Tool delete_file: denied by user"}, trace.Summary.Errors)
}

func TestTraceEmitter_Failure(t *testing.T) {
	dir := t.TempDir()
	tracer, err := NewTraceEmitter(RecorderConfig{LogsDir: dir})
	require.NoError(t, err)

	var saved string
	tracer.OnSaved(func(path string) { saved = path })

	ctx := context.Background()
	now := time.Now()
	tracer.Emit(ctx, runEvent("run-2", now, events.EventThinking, events.ThinkingData{Query: "q", Turn: 1}))
	tracer.Emit(ctx, runEvent("run-2", now, events.EventError, events.ErrorData{Err: errors.New("persist message: disk full")}))
	assert.Empty(t, saved, "non-terminal error keeps the run open")

	tracer.Emit(ctx, runEvent("run-2", now, events.EventError, events.ErrorData{Err: errors.New("model unavailable"), Terminal: true}))
	require.NotEmpty(t, saved)

	trace := readTrace(t, saved)
	assert.Equal(t, "failed", trace.State)
	assert.Equal(t, "model unavailable", trace.Error)
	assert.Equal(t, []string{"persist message: disk full"}, trace.Summary.Errors)
}

func TestTraceEmitter_Cancelled(t *testing.T) {
	tracer, err := NewTraceEmitter(RecorderConfig{LogsDir: t.TempDir(), MaxTextSize: 4})
	require.NoError(t, err)

	var saved string
	tracer.OnSaved(func(path string) { saved = path })

	ctx := context.Background()
	now := time.Now()
	tracer.Emit(ctx, runEvent("run-3", now, events.EventTextChunk, events.TextChunkData{Accumulated: "частичный"}))
	tracer.Emit(ctx, runEvent("run-3", now, events.EventCancelled, events.MessageData{Content: "частичный", State: "cancelled"}))

	trace := readTrace(t, saved)
	assert.Equal(t, "cancelled", trace.State)
	assert.Equal(t, "част... (truncated)", trace.FinalResult)
	require.Len(t, trace.Turns, 1)
	assert.Equal(t, 1, trace.Turns[0].Number)
}

func TestTraceEmitter_IgnoresEventsWithoutRun(t *testing.T) {
	tracer, err := NewTraceEmitter(RecorderConfig{LogsDir: t.TempDir()})
	require.NoError(t, err)

	tracer.Emit(context.Background(), events.New(events.EventProgress, events.ProgressData{Status: "x"}))
	assert.Zero(t, tracer.Active())
}

func TestTraceEmitter_ConcurrentRuns(t *testing.T) {
	dir := t.TempDir()
	tracer, err := NewTraceEmitter(RecorderConfig{LogsDir: dir})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	tracer.Emit(ctx, runEvent("a", now, events.EventThinking, events.ThinkingData{Query: "first", Turn: 1}))
	tracer.Emit(ctx, runEvent("b", now, events.EventThinking, events.ThinkingData{Query: "second", Turn: 1}))
	assert.Equal(t, 2, tracer.Active())

	tracer.Emit(ctx, runEvent("b", now, events.EventDone, events.MessageData{State: "done"}))
	tracer.Emit(ctx, runEvent("a", now, events.EventDone, events.MessageData{State: "done"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"a.json", "b.json"}, names)
	assert.True(t, strings.Contains(readTrace(t, filepath.Join(dir, "a.json")).UserQuery, "first"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 0))
	assert.Equal(t, "abc", truncateString("abc", 3))
	assert.Equal(t, "ab... (truncated)", truncateString("abc", 2))
	assert.Equal(t, "пр... (truncated)", truncateString("привет", 2))
}
