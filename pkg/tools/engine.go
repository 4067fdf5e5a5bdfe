package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ilkoid/vaultmind/pkg/events"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/permission"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

// Approver - источник решений о подтверждении (permission.Gate).
type Approver interface {
	Request(ctx context.Context, req permission.Request) (permission.Outcome, error)
}

// Engine выполняет батч вызовов инструментов одного хода модели.
//
// Вызовы выполняются последовательно в порядке PriorityClass.
// Ошибка одного вызова никогда не прерывает остальные: каждый вызов
// получает ровно один Result, результаты возвращаются в порядке входа.
type Engine struct {
	registry *Registry
	approver Approver
	policy   permission.Policy
	emitter  events.Emitter

	mu           sync.RWMutex
	toolTimeouts map[string]time.Duration
}

// EngineOption настраивает Engine.
type EngineOption func(*Engine)

// WithApprover подключает Gate. Без него вызовы, требующие
// подтверждения, отклоняются.
func WithApprover(a Approver) EngineOption {
	return func(e *Engine) { e.approver = a }
}

// WithPolicy задаёт политику подтверждения.
func WithPolicy(p permission.Policy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithEmitter подключает отправку событий tool_call/tool_result.
func WithEmitter(em events.Emitter) EngineOption {
	return func(e *Engine) { e.emitter = em }
}

// NewEngine создаёт Engine над реестром.
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:     registry,
		policy:       permission.NewStaticPolicy(nil),
		toolTimeouts: make(map[string]time.Duration),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetToolTimeout задаёт deadline контекста для конкретного инструмента.
//
// Deadline только отменяет ctx инструмента: Engine всё равно дожидается
// возврата Execute и лишь потом запускает следующий вызов.
func (e *Engine) SetToolTimeout(toolName string, timeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolTimeouts[toolName] = timeout
}

func (e *Engine) timeoutFor(toolName string) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.toolTimeouts[toolName]
}

// classOf возвращает класс приоритета. Неизвестные инструменты
// классифицируются по имени, чтобы порядок был стабилен.
func (e *Engine) classOf(name string) PriorityClass {
	tool, err := e.registry.Get(name)
	if err != nil {
		return ClassifyName(name)
	}
	return Classify(tool, name)
}

// ExecuteBatch выполняет вызовы и возвращает результаты в порядке calls.
//
// Отмена проверяется между вызовами: выполняющийся инструмент
// завершается, а все оставшиеся получают ResultCancelled.
func (e *Engine) ExecuteBatch(ctx context.Context, calls []llm.ToolCall, ec *ExecContext) []Result {
	results := make([]Result, len(calls))
	order := OrderCalls(calls, e.classOf)

	for pos, idx := range order {
		if ctx.Err() != nil || ec.Cancelled() {
			for _, rest := range order[pos:] {
				results[rest] = ResultCancelled
			}
			utils.Info("Tool batch cancelled", "skipped", len(order)-pos, "total", len(order))
			break
		}
		results[idx] = e.executeOne(ctx, calls[idx], ec)
	}

	return results
}

// executeOne выполняет один вызов: поиск, политика, подтверждение, запуск.
func (e *Engine) executeOne(ctx context.Context, call llm.ToolCall, ec *ExecContext) Result {
	tool, err := e.registry.Get(call.Name)
	if err != nil {
		utils.Warn("Tool not found", "tool", call.Name)
		return Failure("tool not found: %s", call.Name)
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	class := Classify(tool, call.Name)

	e.emit(ctx, ec, events.EventToolCall, events.ToolCallData{
		ToolName: call.Name,
		Args:     args,
		Priority: class.String(),
	})

	start := time.Now()
	result, allowed := e.authorize(ctx, tool, call.Name, args, class, ec)
	if allowed {
		result = e.run(ctx, tool, call.Name, args, ec)
	}
	duration := time.Since(start)

	e.emit(ctx, ec, events.EventToolResult, events.ToolResultData{
		ToolName: call.Name,
		Success:  result.Success,
		Error:    result.Error,
		Duration: duration,
	})

	if result.Success {
		utils.Info("Tool executed", "tool", call.Name, "duration_ms", duration.Milliseconds())
	} else {
		utils.Warn("Tool failed", "tool", call.Name, "error", result.Error, "duration_ms", duration.Milliseconds())
	}

	return result
}

// authorize применяет политику и, если нужно, ждёт решения пользователя.
// Возвращает (_, true) если инструмент можно выполнять.
func (e *Engine) authorize(ctx context.Context, tool Tool, name string, args map[string]any, class PriorityClass, ec *ExecContext) (Result, bool) {
	requires := false
	if c, ok := tool.(Confirmable); ok {
		requires = c.RequiresConfirmation()
	}

	input := permission.PolicyInput{
		ToolName:             name,
		Args:                 args,
		Priority:             class.String(),
		RequiresConfirmation: requires,
	}
	if ec != nil {
		input.SessionID = ec.SessionID
	}

	verdict, err := e.policy.Evaluate(ctx, input)
	if err != nil {
		// Ошибка политики: спрашиваем пользователя
		utils.Error("Policy evaluation failed", "tool", name, "error", err)
		verdict = permission.Verdict{Action: permission.ActionRequireApproval, Reason: "policy error"}
	}

	switch verdict.Action {
	case permission.ActionAllow:
		return Result{}, true
	case permission.ActionBlock:
		return Failure("blocked: %s", verdict.Reason), false
	}

	if e.approver == nil {
		utils.Warn("Tool requires confirmation but no approver is configured", "tool", name)
		return ResultDenied, false
	}

	// Gate ждёт решения до отмены run, даже если сам ctx жив.
	gateCtx, stop := context.WithCancel(ctx)
	defer stop()
	if done := ec.Done(); done != nil {
		go func() {
			select {
			case <-done:
				stop()
			case <-gateCtx.Done():
			}
		}()
	}

	req := permission.Request{
		ToolName: name,
		Args:     args,
		Reason:   verdict.Reason,
		Notify: func(p permission.Pending) {
			e.emit(ctx, ec, events.EventPermissionRequest, events.PermissionData{
				ID:        p.ID,
				ToolName:  name,
				Args:      args,
				Status:    string(permission.StatusPending),
				ExpiresAt: p.ExpiresAt,
			})
		},
	}
	if ec != nil {
		req.SessionID = ec.SessionID
		req.RunID = ec.RunID
	}

	outcome, _ := e.approver.Request(gateCtx, req)

	e.emit(ctx, ec, events.EventPermissionResolved, events.PermissionData{
		ID:       outcome.ID,
		ToolName: name,
		Status:   string(outcome.Status),
	})

	switch outcome.Status {
	case permission.StatusConfirmed:
		return Result{}, true
	case permission.StatusTimedOut:
		return ResultTimeout, false
	case permission.StatusCancelled:
		return ResultCancelled, false
	default:
		return ResultDenied, false
	}
}

// run выполняет инструмент и восстанавливается после panic.
//
// Возврат Execute дожидается всегда: следующий вызов батча не стартует,
// пока предыдущий не закончил побочные эффекты. Если инструмент вернул
// ошибку после истечения своего deadline, она заменяется сообщением о
// timeout, после отмены run - ResultCancelled. Успешный результат
// возвращается как есть, даже если пришёл после deadline.
func (e *Engine) run(ctx context.Context, tool Tool, name string, args map[string]any, ec *ExecContext) (res Result) {
	toolCtx := ctx
	timeout := e.timeoutFor(name)
	if timeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			utils.Error("Tool panicked", "tool", name, "panic", r)
			res = Failure("tool panicked: %v", r)
		}
	}()

	res = tool.Execute(toolCtx, args, ec)
	if res.Success {
		return res
	}
	switch {
	case ctx.Err() != nil:
		return ResultCancelled
	case toolCtx.Err() == context.DeadlineExceeded:
		utils.Warn("Tool execution timeout", "tool", name, "timeout", timeout)
		return Result{Success: false, Error: fmt.Sprintf("tool execution timeout after %v", timeout)}
	}
	return res
}

func (e *Engine) emit(ctx context.Context, ec *ExecContext, t events.EventType, data events.EventData) {
	if e.emitter == nil {
		return
	}
	ev := events.New(t, data)
	if ec != nil {
		ev.SessionID = ec.SessionID
		ev.RunID = ec.RunID
	}
	e.emitter.Emit(ctx, ev)
}
