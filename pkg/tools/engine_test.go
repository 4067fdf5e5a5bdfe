package tools

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ilkoid/vaultmind/pkg/events"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, ts ...Tool) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, tool := range ts {
		require.NoError(t, r.Register(tool))
	}
	return r
}

// eventLog собирает типы событий.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Emit(_ context.Context, ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestEngine_ExecutesInPriorityOrderReturnsInInputOrder(t *testing.T) {
	var log []string
	del := &mockTool{name: "delete_file", log: &log}
	read := &mockTool{name: "read_file", log: &log}
	search := &mockTool{name: "search_files", log: &log}

	e := NewEngine(newTestRegistry(t, del, read, search))
	calls := []llm.ToolCall{call("delete_file"), call("read_file"), call("search_files")}

	results := e.ExecuteBatch(context.Background(), calls, NewExecContext("s1", "r1", nil))

	assert.Equal(t, []string{"search_files", "read_file", "delete_file"}, log)
	require.Len(t, results, 3)
	assert.Equal(t, "ok from delete_file", results[0].Data)
	assert.Equal(t, "ok from read_file", results[1].Data)
	assert.Equal(t, "ok from search_files", results[2].Data)
}

func TestEngine_UnknownToolDoesNotAbortBatch(t *testing.T) {
	read := &mockTool{name: "read_file"}
	e := NewEngine(newTestRegistry(t, read))

	results := e.ExecuteBatch(context.Background(),
		[]llm.ToolCall{call("nope"), call("read_file")}, NewExecContext("s", "r", nil))

	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Equal(t, "tool not found: nope", results[0].Error)
	assert.True(t, results[1].Success)
}

func TestEngine_ToolFailureIsolated(t *testing.T) {
	bad := &mockTool{name: "read_file", result: Failure("file missing")}
	ok := &mockTool{name: "list_files"}
	e := NewEngine(newTestRegistry(t, bad, ok))

	results := e.ExecuteBatch(context.Background(),
		[]llm.ToolCall{call("read_file"), call("list_files")}, NewExecContext("s", "r", nil))

	assert.Equal(t, "file missing", results[0].Error)
	assert.True(t, results[1].Success)
}

func TestEngine_PanicRecovered(t *testing.T) {
	boom := &mockTool{name: "read_file", panics: true}
	e := NewEngine(newTestRegistry(t, boom))

	results := e.ExecuteBatch(context.Background(), []llm.ToolCall{call("read_file")}, NewExecContext("s", "r", nil))

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "tool panicked: boom")
}

func TestEngine_ToolTimeout(t *testing.T) {
	slow := &mockTool{name: "web_fetch", delay: 2 * time.Second}
	e := NewEngine(newTestRegistry(t, slow))
	e.SetToolTimeout("web_fetch", 20*time.Millisecond)

	start := time.Now()
	results := e.ExecuteBatch(context.Background(), []llm.ToolCall{call("web_fetch")}, NewExecContext("s", "r", nil))

	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, results[0].Error, "tool execution timeout after 20ms")
}

// stubbornTool не смотрит на ctx и отмечает пересечение с другими вызовами.
type stubbornTool struct {
	name    string
	delay   time.Duration
	running *atomic.Int32
	overlap *atomic.Bool
}

func (s *stubbornTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: s.name, Parameters: llm.JSONSchema{"type": "object"}}
}

func (s *stubbornTool) Execute(context.Context, map[string]any, *ExecContext) Result {
	if s.running.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.running.Add(-1)
	time.Sleep(s.delay)
	return Success("done " + s.name)
}

func TestEngine_ToolOverrunningTimeoutFinishesBeforeNextCall(t *testing.T) {
	var running atomic.Int32
	var overlap atomic.Bool
	write := &stubbornTool{name: "write_file", delay: 150 * time.Millisecond, running: &running, overlap: &overlap}
	del := &stubbornTool{name: "delete_file", running: &running, overlap: &overlap}

	e := NewEngine(newTestRegistry(t, write, del))
	e.SetToolTimeout("write_file", 30*time.Millisecond)

	start := time.Now()
	results := e.ExecuteBatch(context.Background(),
		[]llm.ToolCall{call("write_file"), call("delete_file")}, NewExecContext("s", "r", nil))

	assert.False(t, overlap.Load(), "delete_file started while write_file was still running")
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	require.Len(t, results, 2)
	assert.Equal(t, Success("done write_file"), results[0], "completed write is reported as done")
	assert.True(t, results[1].Success)
}

func TestEngine_NoTimeoutByDefault(t *testing.T) {
	slow := &mockTool{name: "search_files", delay: 50 * time.Millisecond}
	e := NewEngine(newTestRegistry(t, slow))

	results := e.ExecuteBatch(context.Background(), []llm.ToolCall{call("search_files")}, NewExecContext("s", "r", nil))

	assert.True(t, results[0].Success)
}

func TestEngine_DeniedToolNotExecuted(t *testing.T) {
	del := &mockTool{name: "delete_file", confirm: true}
	approver := &fakeApprover{status: permission.StatusDenied}
	log := &eventLog{}
	e := NewEngine(newTestRegistry(t, del), WithApprover(approver), WithEmitter(log))

	results := e.ExecuteBatch(context.Background(), []llm.ToolCall{call("delete_file")}, NewExecContext("s1", "r1", nil))

	assert.Equal(t, ResultDenied, results[0])
	assert.Equal(t, 0, del.Calls())
	require.Len(t, approver.requests, 1)
	assert.Equal(t, "s1", approver.requests[0].SessionID)
	assert.Equal(t, []events.EventType{
		events.EventToolCall,
		events.EventPermissionRequest,
		events.EventPermissionResolved,
		events.EventToolResult,
	}, log.types())
}

func TestEngine_ConfirmedToolExecuted(t *testing.T) {
	write := &mockTool{name: "write_file", confirm: true}
	e := NewEngine(newTestRegistry(t, write), WithApprover(&fakeApprover{status: permission.StatusConfirmed}))

	results := e.ExecuteBatch(context.Background(), []llm.ToolCall{call("write_file")}, NewExecContext("s", "r", nil))

	assert.True(t, results[0].Success)
	assert.Equal(t, 1, write.Calls())
}

func TestEngine_ApprovalTimeout(t *testing.T) {
	write := &mockTool{name: "write_file", confirm: true}
	e := NewEngine(newTestRegistry(t, write), WithApprover(&fakeApprover{status: permission.StatusTimedOut}))

	results := e.ExecuteBatch(context.Background(), []llm.ToolCall{call("write_file")}, NewExecContext("s", "r", nil))

	assert.Equal(t, ResultTimeout, results[0])
	assert.Equal(t, 0, write.Calls())
}

func TestEngine_NoApproverDenies(t *testing.T) {
	write := &mockTool{name: "write_file", confirm: true}
	e := NewEngine(newTestRegistry(t, write))

	results := e.ExecuteBatch(context.Background(), []llm.ToolCall{call("write_file")}, NewExecContext("s", "r", nil))

	assert.Equal(t, ResultDenied, results[0])
}

func TestEngine_StaticPolicyConfirmList(t *testing.T) {
	fetch := &mockTool{name: "web_fetch"}
	approver := &fakeApprover{status: permission.StatusDenied}
	e := NewEngine(newTestRegistry(t, fetch),
		WithApprover(approver),
		WithPolicy(permission.NewStaticPolicy([]string{"web_fetch"})))

	results := e.ExecuteBatch(context.Background(), []llm.ToolCall{call("web_fetch")}, NewExecContext("s", "r", nil))

	assert.Equal(t, ResultDenied, results[0])
	assert.Len(t, approver.requests, 1)
}

func TestEngine_RegoPolicyBlocks(t *testing.T) {
	policy, err := permission.NewRegoPolicy(context.Background(), permission.DefaultRegoPolicy)
	require.NoError(t, err)

	del := &mockTool{name: "delete_file", confirm: true}
	approver := &fakeApprover{status: permission.StatusConfirmed}
	e := NewEngine(newTestRegistry(t, del), WithApprover(approver), WithPolicy(policy))

	c := llm.ToolCall{ID: "1", Name: "delete_file", Args: map[string]any{"path": "../etc/passwd"}}
	results := e.ExecuteBatch(context.Background(), []llm.ToolCall{c}, NewExecContext("s", "r", nil))

	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "blocked:")
	assert.Empty(t, approver.requests)
	assert.Equal(t, 0, del.Calls())
}

func TestEngine_CancelBetweenCalls(t *testing.T) {
	done := make(chan struct{})
	var log []string
	list := &mockTool{name: "list_files", log: &log}
	read := &mockTool{name: "read_file", log: &log}
	write := &mockTool{name: "write_file", log: &log}

	// run отменяется во время выполнения list_files
	list.onExec = func() { close(done) }

	e := NewEngine(newTestRegistry(t, list, read, write))
	results := e.ExecuteBatch(context.Background(),
		[]llm.ToolCall{call("write_file"), call("read_file"), call("list_files")},
		NewExecContext("s", "r", done))

	assert.Equal(t, []string{"list_files"}, log)
	assert.True(t, results[2].Success, "in-flight tool finishes")
	assert.Equal(t, ResultCancelled, results[0])
	assert.Equal(t, ResultCancelled, results[1])
}

func TestEngine_CancelWhileAwaitingApproval(t *testing.T) {
	done := make(chan struct{})
	write := &mockTool{name: "write_file", confirm: true}
	approver := &fakeApprover{onAsk: func() { close(done) }}
	e := NewEngine(newTestRegistry(t, write), WithApprover(approver))

	results := e.ExecuteBatch(context.Background(),
		[]llm.ToolCall{call("write_file")}, NewExecContext("s", "r", done))

	assert.Equal(t, ResultCancelled, results[0])
	assert.Equal(t, 0, write.Calls())
}

func TestEngine_ContextCancelledBeforeBatch(t *testing.T) {
	read := &mockTool{name: "read_file"}
	e := NewEngine(newTestRegistry(t, read))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := e.ExecuteBatch(ctx, []llm.ToolCall{call("read_file")}, NewExecContext("s", "r", nil))

	assert.Equal(t, ResultCancelled, results[0])
	assert.Equal(t, 0, read.Calls())
}

func TestEngine_WithRealGate(t *testing.T) {
	gate := permission.NewGate(permission.WithTimeout(time.Second))
	gate.OnPending(func(p permission.Pending) {
		go func() { _ = gate.Decide(p.ID, permission.Decision{Confirmed: true, RememberForSession: true}) }()
	})
	write := &mockTool{name: "write_file", confirm: true}
	e := NewEngine(newTestRegistry(t, write), WithApprover(gate))
	ec := NewExecContext("sess", "run", nil)

	first := e.ExecuteBatch(context.Background(), []llm.ToolCall{call("write_file")}, ec)
	require.True(t, first[0].Success)
	assert.True(t, gate.IsAllowed("sess", "write_file"))

	second := e.ExecuteBatch(context.Background(), []llm.ToolCall{call("write_file")}, ec)
	assert.True(t, second[0].Success)
	assert.Equal(t, 2, write.Calls())
}
