package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/vaultmind/pkg/chain"
	"github.com/ilkoid/vaultmind/pkg/events"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/llm/llmtest"
	"github.com/ilkoid/vaultmind/pkg/permission"
	"github.com/ilkoid/vaultmind/pkg/session"
	"github.com/ilkoid/vaultmind/pkg/tools"
)

type fakeRunner struct {
	mu        sync.Mutex
	history   []llm.Message
	cancelled int
	inputs    []string
}

func (r *fakeRunner) Run(_ context.Context, in chain.RunInput, _ func(llm.StreamChunk)) (chain.RunOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in.UserMessage)
	return chain.RunOutput{State: chain.StateDone, Text: "ok"}, nil
}

func (r *fakeRunner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled++
}

func (r *fakeRunner) SessionID() string      { return "notes" }
func (r *fakeRunner) History() []llm.Message { return r.history }

type fakeApprover struct {
	decisions map[string]permission.Decision
	err       error
}

func (a *fakeApprover) Decide(id string, d permission.Decision) error {
	if a.err != nil {
		return a.err
	}
	if a.decisions == nil {
		a.decisions = make(map[string]permission.Decision)
	}
	a.decisions[id] = d
	return nil
}

func newTestModel(t *testing.T) (*Model, *fakeRunner, *fakeApprover) {
	t.Helper()
	runner := &fakeRunner{}
	approver := &fakeApprover{}
	emitter := events.NewChanEmitter(16)
	t.Cleanup(emitter.Close)

	m := NewModel(context.Background(), runner, approver, emitter.Subscribe(), Options{})
	m.Init()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, runner, approver
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func event(t events.EventType, data events.EventData) EventMsg {
	return EventMsg(events.New(t, data))
}

func linesContaining(lines []string, substr string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

func TestModel_ViewBeforeResize(t *testing.T) {
	emitter := events.NewChanEmitter(1)
	defer emitter.Close()
	m := NewModel(context.Background(), &fakeRunner{}, &fakeApprover{}, emitter.Subscribe(), Options{Title: "notes"})

	assert.Equal(t, "Initializing...", m.View())

	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	view := m.View()
	assert.Contains(t, view, "notes")
	assert.Contains(t, view, "session: notes")
}

func TestModel_RestoresHistory(t *testing.T) {
	runner := &fakeRunner{history: []llm.Message{
		llm.NewTextMessage(llm.RoleUser, "что в inbox?"),
		{Role: llm.RoleModel, Parts: []llm.Part{{FunctionCall: &llm.FunctionCall{Name: "list_files"}}}},
		llm.NewTextMessage(llm.RoleModel, "Две заметки."),
	}}
	emitter := events.NewChanEmitter(1)
	defer emitter.Close()

	m := NewModel(context.Background(), runner, &fakeApprover{}, emitter.Subscribe(), Options{})

	lines := m.Lines()
	assert.Equal(t, 1, linesContaining(lines, "что в inbox?"))
	assert.Equal(t, 1, linesContaining(lines, "Две заметки."))
	assert.Equal(t, 1, linesContaining(lines, "3 сообщений"))
}

func TestModel_SendStartsRun(t *testing.T) {
	m, runner, _ := newTestModel(t)

	// Пустой ввод игнорируется
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, m.Running())

	m.textarea.SetValue("найди заметки про Go")
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.Running())
	assert.Empty(t, m.textarea.Value())
	assert.Equal(t, 1, linesContaining(m.Lines(), "найди заметки про Go"))

	// Второй запрос во время run не отправляется
	m.textarea.SetValue("ещё")
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)

	m.Update(runFinishedMsg{out: chain.RunOutput{State: chain.StateDone}})
	assert.False(t, m.Running())
	assert.Empty(t, runner.inputs, "run cmd was not executed by the test")
}

func TestModel_StreamingChunksShareOneLine(t *testing.T) {
	m, _, _ := newTestModel(t)

	m.Update(event(events.EventTextChunk, events.TextChunkData{Chunk: "Hel", Accumulated: "Hel"}))
	m.Update(event(events.EventTextChunk, events.TextChunkData{Chunk: "lo", Accumulated: "Hello"}))
	m.Update(event(events.EventThinkingChunk, events.TextChunkData{Chunk: "hmm"}))
	m.Update(event(events.EventMessage, events.MessageData{Content: "Hello", State: "done"}))

	lines := m.Lines()
	assert.Equal(t, 1, linesContaining(lines, "Модель:"))
	assert.Equal(t, 1, linesContaining(lines, "Hello"))
	assert.Zero(t, linesContaining(lines, "hmm"))
}

func TestModel_FinalMessageNotStreamed(t *testing.T) {
	m, _, _ := newTestModel(t)

	m.Update(event(events.EventMessage, events.MessageData{Content: "Не удалось получить ответ.", State: "done"}))
	assert.Equal(t, 1, linesContaining(m.Lines(), "Не удалось получить ответ."))

	m.Update(event(events.EventMessage, events.MessageData{State: chain.StateMaxTurnsReached.String()}))
	assert.Equal(t, 1, linesContaining(m.Lines(), "лимит ходов"))
}

func TestModel_ToolEvents(t *testing.T) {
	m, _, _ := newTestModel(t)

	m.Update(event(events.EventTextChunk, events.TextChunkData{Accumulated: "Смотрю"}))
	m.Update(event(events.EventToolCall, events.ToolCallData{ToolName: "read_file", Args: map[string]any{"path": "inbox.md"}}))
	m.Update(event(events.EventToolResult, events.ToolResultData{ToolName: "read_file", Success: true, Duration: 12 * time.Millisecond}))
	m.Update(event(events.EventToolResult, events.ToolResultData{ToolName: "delete_file", Error: "denied"}))
	m.Update(event(events.EventTextChunk, events.TextChunkData{Accumulated: "Готово"}))

	lines := m.Lines()
	require.Len(t, lines, 5)
	assert.Contains(t, lines[1], `{"path":"inbox.md"}`)
	assert.Contains(t, lines[2], "✓ read_file (12ms)")
	assert.Contains(t, lines[3], "✗ delete_file: denied")
	assert.Contains(t, lines[4], "Готово", "text after a tool call starts a new line")
}

func TestModel_ApprovalKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want permission.Decision
	}{
		{"allow once", "y", permission.Decision{Confirmed: true}},
		{"allow for session", "a", permission.Decision{Confirmed: true, RememberForSession: true}},
		{"deny", "n", permission.Decision{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, approver := newTestModel(t)
			m.status.SetProcessing(true)
			m.Update(event(events.EventPermissionRequest, events.PermissionData{
				ID: "req-1", ToolName: "delete_file", Args: map[string]any{"path": "old.md"}, Status: "pending",
			}))
			assert.Contains(t, m.View(), "ждёт подтверждения: delete_file")

			// Посторонние клавиши не решают запрос и не попадают в ввод
			m.Update(runes("x"))
			assert.Empty(t, approver.decisions)
			assert.Empty(t, m.textarea.Value())

			m.Update(runes(tt.key))
			require.Contains(t, approver.decisions, "req-1")
			assert.Equal(t, tt.want, approver.decisions["req-1"])
			assert.NotContains(t, m.View(), "ждёт подтверждения")
		})
	}
}

func TestModel_ApprovalRejected(t *testing.T) {
	m, _, approver := newTestModel(t)
	approver.err = permission.ErrAlreadyResolved

	m.Update(event(events.EventPermissionRequest, events.PermissionData{ID: "req-1", ToolName: "write_file"}))
	m.Update(runes("y"))

	assert.Equal(t, 1, linesContaining(m.Lines(), "Решение не принято"))
}

func TestModel_PermissionResolvedClearsPending(t *testing.T) {
	m, _, approver := newTestModel(t)

	m.Update(event(events.EventPermissionRequest, events.PermissionData{ID: "req-1", ToolName: "write_file"}))
	m.Update(event(events.EventPermissionResolved, events.PermissionData{ID: "req-1", ToolName: "write_file", Status: "timed_out"}))

	assert.Equal(t, 1, linesContaining(m.Lines(), "write_file: timed_out"))

	// После таймаута y снова печатается в поле ввода
	m.Update(runes("y"))
	assert.Empty(t, approver.decisions)
	assert.Equal(t, "y", m.textarea.Value())
}

func TestModel_CancelAndQuit(t *testing.T) {
	m, runner, _ := newTestModel(t)

	// Без run Esc ничего не делает
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Zero(t, runner.cancelled)

	m.textarea.SetValue("долгий запрос")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, 1, runner.cancelled)

	m.Update(event(events.EventCancelled, events.MessageData{State: "cancelled"}))
	assert.Equal(t, 1, linesContaining(m.Lines(), "отменён"))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, 2, runner.cancelled, "quit cancels the active run")
}

func TestModel_ErrorEvent(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.Update(event(events.EventError, events.ErrorData{Err: errors.New("model unavailable")}))
	assert.Equal(t, 1, linesContaining(m.Lines(), "model unavailable"))
}

func TestModel_ToggleHelp(t *testing.T) {
	m, _, _ := newTestModel(t)
	assert.NotContains(t, m.View(), "allow for session")

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlH})
	assert.Contains(t, m.View(), "allow for session")
}

// Полный run через настоящий Orchestrator: события из ChanEmitter
// прокачиваются через Update так же, как это делает tea.Program.
func TestModel_WithOrchestrator(t *testing.T) {
	emitter := events.NewChanEmitter(256)
	defer emitter.Close()
	sub := emitter.Subscribe()

	registry := tools.NewRegistry()
	orch, err := chain.New("tui-1", chain.Dependencies{
		Client: llmtest.NewScriptedClient(llmtest.Turn{
			Chunks: []llm.StreamChunk{{Text: "В vault "}, {Text: "две заметки."}},
		}),
		Engine:   tools.NewEngine(registry, tools.WithEmitter(emitter)),
		Registry: registry,
		Store:    session.NewMemoryStore(),
		Emitter:  emitter,
	}, chain.NewConfig())
	require.NoError(t, err)

	m := NewModel(context.Background(), orch, permission.NewGate(), sub, Options{})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	m.textarea.SetValue("сколько заметок?")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	batch, ok := cmd().(tea.BatchMsg)
	require.True(t, ok)
	var finished tea.Msg
	for _, c := range batch {
		if c == nil {
			continue
		}
		if msg, ok := c().(runFinishedMsg); ok {
			finished = msg
		}
	}
	require.NotNil(t, finished)

	// Run синхронно отправил все события до возврата
	for drained := false; !drained; {
		select {
		case ev := <-sub.Events():
			m.Update(EventMsg(ev))
		default:
			drained = true
		}
	}
	m.Update(finished)

	assert.False(t, m.Running())
	lines := m.Lines()
	assert.Equal(t, 1, linesContaining(lines, "В vault две заметки."))
	assert.Len(t, orch.History(), 2)
}

func TestGetColorScheme(t *testing.T) {
	assert.Equal(t, ColorSchemes["dracula"], GetColorScheme("dracula"))
	assert.Equal(t, DefaultColorScheme(), GetColorScheme(""))
	assert.Equal(t, DefaultColorScheme(), GetColorScheme("solarized"))
}
