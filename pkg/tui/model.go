package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ilkoid/vaultmind/pkg/chain"
	"github.com/ilkoid/vaultmind/pkg/events"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/permission"
	"github.com/ilkoid/vaultmind/pkg/tui/primitives"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

// Runner - часть Orchestrator, нужная чату.
type Runner interface {
	Run(ctx context.Context, in chain.RunInput, onChunk func(llm.StreamChunk)) (chain.RunOutput, error)
	Cancel()
	SessionID() string
	History() []llm.Message
}

// Approver доставляет решение пользователя по запросу подтверждения.
type Approver interface {
	Decide(id string, d permission.Decision) error
}

// Options - настройки чата.
type Options struct {
	Title string
	Theme string
	Debug bool
}

// runFinishedMsg приходит, когда Run вернулся.
type runFinishedMsg struct {
	out chain.RunOutput
	err error
}

// Model - чат с моделью над хранилищем заметок.
//
// Run выполняется в tea.Cmd, события run приходят через Subscriber
// и рисуются по мере поступления. Пока инструмент ждёт подтверждения,
// y/a/n отвечают на запрос вместо ввода текста.
type Model struct {
	ctx      context.Context
	runner   Runner
	approver Approver
	sub      events.Subscriber

	viewport *primitives.ViewportManager
	status   *primitives.StatusBarManager
	textarea textarea.Model
	help     help.Model
	keys     KeyMap
	styles   styles
	title    string

	ready    bool
	showHelp bool
	running  bool

	// streaming - последняя строка viewport растёт чанками текущего хода
	streaming bool
	streamed  string

	pending *events.PermissionData
}

// NewModel создаёт чат.
func NewModel(ctx context.Context, runner Runner, approver Approver, sub events.Subscriber, opts Options) *Model {
	if opts.Title == "" {
		opts.Title = "vaultmind"
	}
	colors := GetColorScheme(opts.Theme)

	status := primitives.NewStatusBarManager(primitives.StatusBarConfig{
		SpinnerColor:    colors.AIMessage,
		IdleColor:       colors.SystemMessage,
		BackgroundColor: colors.StatusBackground,
		DebugColor:      colors.ErrorMessage,
		DebugText:       colors.StatusForeground,
		ExtraText:       colors.StatusForeground,
	})
	status.SetDebugMode(opts.Debug)

	ta := textarea.New()
	ta.Placeholder = "Спросите что-нибудь о заметках..."
	ta.Prompt = "┃ "
	ta.CharLimit = 2000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	m := &Model{
		ctx:      ctx,
		runner:   runner,
		approver: approver,
		sub:      sub,
		viewport: primitives.NewViewportManager(primitives.ViewportConfig{MinWidth: 20, MinHeight: 1}),
		status:   status,
		textarea: ta,
		help:     help.New(),
		keys:     DefaultKeyMap(),
		styles:   newStyles(colors),
		title:    opts.Title,
	}
	status.SetCustomExtra(m.statusExtra)
	m.restoreHistory()
	return m
}

// Init реализует tea.Model интерфейс.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.textarea.Focus(),
		ReceiveEventCmd(m.sub, toEventMsg),
	)
}

// Update реализует tea.Model интерфейс.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.handleWindowSize(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		m.handleEvent(events.Event(msg))
		return m, WaitForEvent(m.sub, toEventMsg)

	case eventsClosedMsg:
		return m, nil

	case runFinishedMsg:
		m.handleRunFinished(msg)
		return m, nil

	case spinner.TickMsg:
		return m, m.status.Update(msg)

	default:
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		return m, cmd
	}
}

func (m *Model) handleWindowSize(msg tea.WindowSizeMsg) {
	headerHeight := 1
	if m.showHelp {
		headerHeight += 3
	}
	// divider + textarea + status
	footerHeight := 1 + m.textarea.Height() + 1

	m.help.Width = msg.Width
	m.textarea.SetWidth(msg.Width)
	m.viewport.HandleResize(msg, headerHeight, footerHeight)
	m.status.SetWidth(msg.Width)
	m.ready = true
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.running {
			m.runner.Cancel()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.running {
			m.runner.Cancel()
			m.appendSystem("Отмена запрошена...")
		}
		return m, nil

	case key.Matches(msg, m.keys.ScrollUp):
		m.viewport.ScrollUp(5)
		return m, nil

	case key.Matches(msg, m.keys.ScrollDown):
		m.viewport.ScrollDown(5)
		return m, nil

	case key.Matches(msg, m.keys.ToggleHelp):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		return m, nil
	}

	if m.pending != nil {
		return m, m.handleApprovalKey(msg)
	}

	if key.Matches(msg, m.keys.Send) {
		return m, m.send()
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

// handleApprovalKey отвечает на ожидающий запрос подтверждения.
// Остальные клавиши игнорируются, пока запрос не решён.
func (m *Model) handleApprovalKey(msg tea.KeyMsg) tea.Cmd {
	var d permission.Decision
	switch {
	case key.Matches(msg, m.keys.Approve):
		d = permission.Decision{Confirmed: true}
	case key.Matches(msg, m.keys.Always):
		d = permission.Decision{Confirmed: true, RememberForSession: true}
	case key.Matches(msg, m.keys.Deny):
		d = permission.Decision{Confirmed: false}
	default:
		return nil
	}

	id := m.pending.ID
	if err := m.approver.Decide(id, d); err != nil {
		// Запрос мог истечь раньше ответа
		utils.Warn("Approval decision rejected", "id", id, "error", err)
		m.appendError(fmt.Sprintf("Решение не принято: %v", err))
	}
	m.pending = nil
	m.status.SetActivity(primitives.DefaultActivity)
	return nil
}

// send запускает run с текстом из поля ввода.
func (m *Model) send() tea.Cmd {
	if m.running {
		return nil
	}
	text := strings.TrimSpace(m.textarea.Value())
	if text == "" {
		return nil
	}
	m.textarea.Reset()

	m.viewport.Append(m.styles.user.Render("Вы: ")+text, true)
	m.viewport.GotoBottom()
	m.running = true
	m.streaming = false
	m.streamed = ""
	m.status.SetProcessing(true)

	ctx, runner := m.ctx, m.runner
	run := func() tea.Msg {
		out, err := runner.Run(ctx, chain.RunInput{UserMessage: text}, nil)
		return runFinishedMsg{out: out, err: err}
	}
	return tea.Batch(run, m.status.Tick())
}

// handleEvent рисует событие run.
func (m *Model) handleEvent(ev events.Event) {
	switch data := ev.Data.(type) {
	case events.TextChunkData:
		if ev.Type == events.EventThinkingChunk {
			return
		}
		m.status.SetActivity("отвечает")
		m.streamChunk(data.Accumulated)

	case events.ToolCallData:
		m.endStream()
		m.status.SetActivity("инструмент: " + data.ToolName)
		m.viewport.Append(m.styles.tool.Render("→ "+data.ToolName)+" "+formatArgs(data.Args), true)

	case events.ToolResultData:
		if data.Success {
			m.viewport.Append(m.styles.tool.Render(fmt.Sprintf("  ✓ %s (%s)", data.ToolName, data.Duration.Round(time.Millisecond))), true)
		} else {
			m.viewport.Append(m.styles.err.Render(fmt.Sprintf("  ✗ %s: %s", data.ToolName, data.Error)), true)
		}

	case events.PermissionData:
		m.handlePermission(ev.Type, data)

	case events.MessageData:
		m.handleMessage(ev.Type, data)

	case events.ErrorData:
		m.endStream()
		if data.Err != nil {
			m.appendError("Ошибка: " + data.Err.Error())
		}
	}
}

func (m *Model) handlePermission(t events.EventType, data events.PermissionData) {
	switch t {
	case events.EventPermissionRequest:
		m.endStream()
		p := data
		m.pending = &p
		m.status.SetActivity("ждёт подтверждения: " + data.ToolName)
		m.viewport.Append(m.styles.permission.Render(
			fmt.Sprintf("? Разрешить %s %s  [y] да  [a] всегда  [n] нет", data.ToolName, formatArgs(data.Args))), true)
		m.viewport.GotoBottom()

	case events.EventPermissionResolved:
		if m.pending != nil && m.pending.ID == data.ID {
			m.pending = nil
			m.status.SetActivity(primitives.DefaultActivity)
		}
		m.appendSystem(fmt.Sprintf("  %s: %s", data.ToolName, data.Status))
	}
}

func (m *Model) handleMessage(t events.EventType, data events.MessageData) {
	switch t {
	case events.EventMessage:
		// Финальный текст уже пришёл чанками, если не было follow-up
		if data.Content != "" && data.Content != m.streamed {
			m.endStream()
			m.viewport.Append(m.styles.ai.Render("Модель: ")+data.Content, true)
		}
		m.endStream()
		if data.State == chain.StateMaxTurnsReached.String() {
			m.appendSystem("Достигнут лимит ходов.")
		}

	case events.EventCancelled:
		m.endStream()
		m.appendSystem("Run отменён.")
	}
}

func (m *Model) streamChunk(accumulated string) {
	line := m.styles.ai.Render("Модель: ") + accumulated
	if m.streaming {
		m.viewport.ReplaceLast(line, true)
	} else {
		m.viewport.Append(line, true)
		m.streaming = true
	}
	m.streamed = accumulated
}

func (m *Model) endStream() {
	m.streaming = false
}

func (m *Model) handleRunFinished(msg runFinishedMsg) {
	m.running = false
	m.pending = nil
	m.status.SetProcessing(false)
	utils.Debug("TUI run finished",
		"state", msg.out.State.String(),
		"turns", msg.out.Turns,
		"tool_calls", msg.out.ToolCalls)
}

// restoreHistory показывает сообщения восстановленной сессии.
func (m *Model) restoreHistory() {
	history := m.runner.History()
	if len(history) == 0 {
		return
	}
	m.appendSystem(fmt.Sprintf("Сессия %s: %d сообщений", m.runner.SessionID(), len(history)))
	for _, msg := range history {
		text := msg.Text()
		if text == "" {
			continue
		}
		switch msg.Role {
		case llm.RoleUser:
			m.viewport.Append(m.styles.user.Render("Вы: ")+text, false)
		case llm.RoleModel:
			m.viewport.Append(m.styles.ai.Render("Модель: ")+text, false)
		}
	}
}

func (m *Model) appendSystem(text string) {
	m.viewport.Append(m.styles.system.Render(text), true)
}

func (m *Model) appendError(text string) {
	m.viewport.Append(m.styles.err.Render(text), true)
}

func (m *Model) statusExtra() string {
	return "session: " + m.runner.SessionID()
}

// View реализует tea.Model интерфейс.
func (m *Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := m.styles.header.Render(m.title)
	if m.showHelp {
		header += "\n" + m.help.View(m.keys)
	}

	width, _ := m.viewport.GetDimensions()
	divider := m.styles.divider.Render(strings.Repeat("─", width))

	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s",
		header, m.viewport.View(), divider, m.textarea.View(), m.status.Render())
}

// Running сообщает, выполняется ли run.
func (m *Model) Running() bool {
	return m.running
}

// Lines возвращает строки чата без переноса.
func (m *Model) Lines() []string {
	return m.viewport.Content()
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return truncate(string(data), 120)
}

// truncate укорачивает строку до указанной длины (по символам, не байтам).
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
