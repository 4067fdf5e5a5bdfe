package tools

import (
	"context"
	"sync"
	"time"

	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/permission"
)

// mockTool - настраиваемый инструмент для тестов.
type mockTool struct {
	name    string
	confirm bool
	delay   time.Duration
	panics  bool
	result  Result
	onExec  func()

	mu    sync.Mutex
	calls int
	log   *[]string
}

func (m *mockTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        m.name,
		Description: "mock " + m.name,
		Parameters: llm.JSONSchema{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (m *mockTool) RequiresConfirmation() bool { return m.confirm }

func (m *mockTool) Execute(ctx context.Context, _ map[string]any, _ *ExecContext) Result {
	m.mu.Lock()
	m.calls++
	if m.log != nil {
		*m.log = append(*m.log, m.name)
	}
	m.mu.Unlock()

	if m.onExec != nil {
		m.onExec()
	}
	if m.panics {
		panic("boom")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return Failure("%v", ctx.Err())
		}
	}
	if !m.result.Success && m.result.Error == "" {
		return Success("ok from " + m.name)
	}
	return m.result
}

func (m *mockTool) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fakeApprover возвращает заранее заданный статус.
type fakeApprover struct {
	status   permission.Status
	requests []permission.Request
	onAsk    func()
}

func (f *fakeApprover) Request(ctx context.Context, req permission.Request) (permission.Outcome, error) {
	f.requests = append(f.requests, req)
	if req.Notify != nil {
		req.Notify(permission.Pending{ID: "perm-1", Request: req})
	}
	if f.onAsk != nil {
		f.onAsk()
	}
	if f.status == "" {
		<-ctx.Done()
		return permission.Outcome{ID: "perm-1", Status: permission.StatusCancelled}, ctx.Err()
	}
	return permission.Outcome{ID: "perm-1", Status: f.status}, nil
}

func call(name string) llm.ToolCall {
	return llm.ToolCall{ID: "call_" + name, Name: name, Args: map[string]any{}}
}
