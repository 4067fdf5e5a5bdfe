package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ilkoid/vaultmind/pkg/events"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/session"
	"github.com/ilkoid/vaultmind/pkg/tools"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

var (
	// ErrRunInProgress - у сессии уже идёт run.
	ErrRunInProgress = errors.New("a run is already in progress for this session")

	// ErrMaxTurnsReached - текст результата при исчерпании лимита ходов.
	ErrMaxTurnsReached = errors.New("maximum number of model turns reached")
)

// Persistence - порт сохранения истории. session.Store его реализует.
type Persistence interface {
	Append(ctx context.Context, sessionID string, msg llm.Message) error
}

// Dependencies - коллабораторы Orchestrator.
type Dependencies struct {
	// Client - уже обёрнутый в RetryClient клиент модели.
	Client llm.Client

	// Engine выполняет батчи tool calls.
	Engine *tools.Engine

	// Registry даёт определения инструментов, если RunInput.Tools пуст.
	Registry *tools.Registry

	// Store опционален: без него история живёт только в памяти.
	Store Persistence

	// Emitter опционален.
	Emitter events.Emitter
}

// RunInput - входные данные одного run.
type RunInput struct {
	// UserMessage - новое сообщение пользователя. Пустое - продолжение без ввода.
	UserMessage string

	// Tools переопределяет набор инструментов. nil - Registry.EnabledTools.
	Tools []llm.ToolDefinition

	// Options - параметры генерации поверх дефолтов модели.
	Options []llm.GenerateOption
}

// RunOutput - результат run.
type RunOutput struct {
	RunID string
	State RunState

	// Text - финальный ответ (или накопленный текст при отмене).
	Text string

	// Degraded - модель дважды вернула пустой ответ, Text = DegradedMessage.
	Degraded bool

	// Turns - количество вызовов модели.
	Turns int

	// ToolCalls - количество выполненных вызовов инструментов.
	ToolCalls int

	Duration time.Duration
}

// Orchestrator ведёт диалог одной сессии.
//
// История живёт всю сессию, run-ы выполняются строго по одному.
// Cancel() кооперативный: проверяется перед вызовом модели, на границах
// чанков, между инструментами и перед следующим ходом.
type Orchestrator struct {
	sessionID string
	deps      Dependencies
	config    Config
	history   *History

	mu         sync.Mutex
	running    bool
	state      RunState
	cancelCh   chan struct{}
	cancelOnce *sync.Once
	stream     *llm.Stream
}

// New создаёт Orchestrator для сессии.
func New(sessionID string, deps Dependencies, cfg Config) (*Orchestrator, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("model client is not set")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("tool engine is not set")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}

	return &Orchestrator{
		sessionID: sessionID,
		deps:      deps,
		config:    cfg,
		history:   NewHistory(),
		state:     StateIdle,
	}, nil
}

// Restore загружает историю сессии из session.Store.
//
// Вызывается до первого run. Неизвестная сессия - пустая история.
func (o *Orchestrator) Restore(ctx context.Context, store session.Store) error {
	msgs, err := store.Load(ctx, o.sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore session %s: %w", o.sessionID, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrRunInProgress
	}
	o.history = NewHistory(msgs...)
	utils.Info("Session restored", "session", o.sessionID, "messages", len(msgs))
	return nil
}

// SessionID возвращает идентификатор сессии.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// History возвращает копию истории.
func (o *Orchestrator) History() []llm.Message {
	o.mu.Lock()
	h := o.history
	o.mu.Unlock()
	return h.Snapshot()
}

// State возвращает текущее состояние.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Running сообщает идёт ли run.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) setState(s RunState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Cancel запрашивает остановку текущего run. Без активного run - no-op.
//
// Выполняющийся инструмент доработает до конца, стрим модели
// остановится на следующем чанке.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	once, ch, stream := o.cancelOnce, o.cancelCh, o.stream
	o.mu.Unlock()

	once.Do(func() {
		utils.Info("Run cancellation requested", "session", o.sessionID)
		close(ch)
	})
	if stream != nil {
		stream.Cancel()
	}
}

// run - runtime состояние одного Run().
type run struct {
	id       string
	ctx      context.Context
	cancelCh <-chan struct{}
	ec       *tools.ExecContext
	observer *EmitterObserver
	tools    []llm.ToolDefinition
	options  llm.GenerateOptions
	onChunk  func(llm.StreamChunk)

	out RunOutput
}

func (r *run) cancelled() bool {
	select {
	case <-r.cancelCh:
		return true
	default:
		return false
	}
}

// Run выполняет цикл диалога до финального ответа.
//
// Возвращает ошибку только при сбое модели (после ретраев) или
// неверном использовании (ErrRunInProgress). Отмена и лимит ходов
// ошибками не являются: см. RunOutput.State.
func (o *Orchestrator) Run(ctx context.Context, in RunInput, onChunk func(llm.StreamChunk)) (RunOutput, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return RunOutput{}, ErrRunInProgress
	}
	cancelCh := make(chan struct{})
	o.running = true
	o.state = StateIdle
	o.cancelCh = cancelCh
	o.cancelOnce = &sync.Once{}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.stream = nil
		o.mu.Unlock()
	}()

	if o.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RunTimeout)
		defer cancel()
	}

	runID := uuid.NewString()
	observer := NewEmitterObserver(o.deps.Emitter, o.sessionID, runID)
	ec := tools.NewExecContext(o.sessionID, runID, cancelCh)
	ec.Progress = func(status string) {
		observer.EmitProgress(ctx, status, "tools")
	}

	r := &run{
		id:       runID,
		ctx:      ctx,
		cancelCh: cancelCh,
		ec:       ec,
		observer: observer,
		tools:    in.Tools,
		options:  llm.NewGenerateOptions(in.Options...),
		onChunk:  onChunk,
		out:      RunOutput{RunID: runID},
	}
	if r.tools == nil && o.deps.Registry != nil {
		r.tools = o.deps.Registry.EnabledTools(ctx)
	}

	start := time.Now()
	utils.Info("Run started", "session", o.sessionID, "run", runID, "tools", len(r.tools))

	out, err := o.loop(r, in.UserMessage)
	out.Duration = time.Since(start)
	o.setState(out.State)

	if err != nil {
		utils.Error("Run failed", "session", o.sessionID, "run", runID, "turns", out.Turns, "error", err)
	} else {
		utils.Info("Run finished",
			"session", o.sessionID,
			"run", runID,
			"state", out.State.String(),
			"turns", out.Turns,
			"tool_calls", out.ToolCalls,
			"degraded", out.Degraded,
			"duration_ms", out.Duration.Milliseconds())
	}
	observer.OnFinish(ctx, out, err)

	return out, err
}

// loop - основной цикл: модель → инструменты → модель.
func (o *Orchestrator) loop(r *run, userMessage string) (RunOutput, error) {
	if strings.TrimSpace(userMessage) != "" {
		o.append(r, llm.NewTextMessage(llm.RoleUser, userMessage))
	}

	followUpSent := false
	ephemeral := ""

	for {
		if r.cancelled() {
			return o.finishCancelled(r, ""), nil
		}
		if r.out.Turns >= o.config.MaxTurns {
			utils.Warn("Max turns reached", "session", o.sessionID, "run", r.id, "max_turns", o.config.MaxTurns)
			r.out.State = StateMaxTurnsReached
			r.out.Text = ErrMaxTurnsReached.Error()
			return r.out, nil
		}

		r.out.Turns++
		o.setState(StateAwaitingModel)
		r.observer.EmitThinking(r.ctx, userMessage, r.out.Turns)

		resp, err := o.callModel(r, ephemeral)
		ephemeral = ""
		if err != nil {
			if r.cancelled() || errors.Is(err, context.Canceled) {
				return o.finishCancelled(r, ""), nil
			}
			r.out.State = StateFailed
			return r.out, err
		}

		if resp.Cancelled || r.cancelled() {
			return o.finishCancelled(r, resp.Text), nil
		}

		if len(resp.ToolCalls) > 0 {
			o.executeTools(r, resp.ToolCalls)
			if r.cancelled() {
				// Текст этого хода уже показан пользователю
				return o.finishCancelled(r, resp.Text), nil
			}
			continue
		}

		if resp.IsEmpty() {
			if !followUpSent {
				followUpSent = true
				ephemeral = o.config.SummaryPrompt
				utils.Warn("Empty model response, requesting summary", "session", o.sessionID, "run", r.id)
				continue
			}
			o.append(r, llm.NewTextMessage(llm.RoleModel, o.config.DegradedMessage))
			r.out.State = StateDone
			r.out.Text = o.config.DegradedMessage
			r.out.Degraded = true
			return r.out, nil
		}

		o.append(r, llm.NewTextMessage(llm.RoleModel, resp.Text))
		r.out.State = StateDone
		r.out.Text = resp.Text
		return r.out, nil
	}
}

// callModel выполняет один запрос к модели в режиме стрима или Send.
func (o *Orchestrator) callModel(r *run, ephemeral string) (llm.Response, error) {
	req := llm.ConversationRequest{
		System:      o.config.SystemPrompt,
		History:     o.history.Snapshot(),
		UserMessage: ephemeral,
		Tools:       r.tools,
		Options:     r.options,
	}

	if !o.config.Streaming {
		// Send не знает про Cancel(): отменяем его контекст
		ctx, stop := context.WithCancel(r.ctx)
		defer stop()
		go func() {
			select {
			case <-r.cancelCh:
				stop()
			case <-ctx.Done():
			}
		}()
		return o.deps.Client.Send(ctx, req)
	}

	var acc strings.Builder
	stream, err := o.deps.Client.Stream(r.ctx, req, func(chunk llm.StreamChunk) {
		acc.WriteString(chunk.Text)
		if r.onChunk != nil {
			r.onChunk(chunk)
		}
		r.observer.EmitChunk(r.ctx, chunk, acc.String())
	})
	if err != nil {
		return llm.Response{}, err
	}

	o.mu.Lock()
	o.stream = stream
	o.mu.Unlock()
	// Cancel() мог прийти до публикации стрима
	if r.cancelled() {
		stream.Cancel()
	}

	resp, err := stream.Wait()

	o.mu.Lock()
	o.stream = nil
	o.mu.Unlock()
	return resp, err
}

// executeTools добавляет в историю вызовы и ответы на них.
//
// model-сообщение содержит ровно function calls (signatures как есть),
// tool-сообщение - ответы в порядке вызовов.
func (o *Orchestrator) executeTools(r *run, calls []llm.ToolCall) {
	callParts := make([]llm.Part, 0, len(calls))
	for _, c := range calls {
		callParts = append(callParts, c.Part())
	}
	o.append(r, llm.Message{Role: llm.RoleModel, Parts: callParts})

	o.setState(StateExecutingTools)
	results := o.deps.Engine.ExecuteBatch(r.ctx, calls, r.ec)
	r.out.ToolCalls += len(calls)

	respParts := make([]llm.Part, 0, len(calls))
	for i, c := range calls {
		respParts = append(respParts, llm.Part{FunctionResponse: &llm.FunctionResponse{
			ID:       c.ID,
			Name:     c.Name,
			Response: results[i].Response(),
		}})
	}
	o.append(r, llm.Message{Role: llm.RoleTool, Parts: respParts})
}

// finishCancelled завершает run как отменённый. Частичный текст,
// уже показанный пользователю, сохраняется в истории.
func (o *Orchestrator) finishCancelled(r *run, partial string) RunOutput {
	if strings.TrimSpace(partial) != "" {
		o.append(r, llm.NewTextMessage(llm.RoleModel, partial))
	}
	r.out.State = StateCancelled
	r.out.Text = partial
	return r.out
}

// append добавляет сообщение в историю и сохраняет его.
// Ошибка сохранения не прерывает run.
func (o *Orchestrator) append(r *run, msg llm.Message) {
	o.history.Append(msg)

	if o.deps.Store == nil {
		return
	}
	// Сохраняем даже если run отменён через ctx
	ctx := context.WithoutCancel(r.ctx)
	if err := o.deps.Store.Append(ctx, o.sessionID, msg); err != nil {
		utils.Error("Failed to persist message", "session", o.sessionID, "role", string(msg.Role), "error", err)
		r.observer.EmitError(r.ctx, fmt.Errorf("persist message: %w", err))
	}
}
