// Интерфейс Tool и структуры результата.

package tools

import (
	"context"
	"fmt"

	"github.com/ilkoid/vaultmind/pkg/llm"
)

// Tool - контракт, который должен реализовать любой инструмент.
type Tool interface {
	// Definition возвращает описание инструмента для LLM.
	Definition() llm.ToolDefinition

	// Execute выполняет логику инструмента.
	//
	// args - аргументы, которые прислала модель (уже распарсенный JSON).
	// Ошибки возвращаются через Result, а не через panic.
	Execute(ctx context.Context, args map[string]any, ec *ExecContext) Result
}

// Confirmable - инструмент, требующий подтверждения пользователя.
type Confirmable interface {
	RequiresConfirmation() bool
}

// Classified - инструмент, явно задающий свой класс приоритета.
type Classified interface {
	PriorityClass() PriorityClass
}

// Result - результат выполнения ровно одного вызова.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Success создаёт успешный результат.
func Success(data any) Result {
	return Result{Success: true, Data: data}
}

// Failure создаёт неуспешный результат.
func Failure(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Результаты, которые возвращает Engine без вызова инструмента.
var (
	ResultDenied    = Result{Success: false, Error: "denied"}
	ResultTimeout   = Result{Success: false, Error: "timeout"}
	ResultCancelled = Result{Success: false, Error: "cancelled"}
)

// Response конвертирует результат в payload functionResponse.
func (r Result) Response() map[string]any {
	resp := map[string]any{"success": r.Success}
	if r.Data != nil {
		resp["data"] = r.Data
	}
	if r.Error != "" {
		resp["error"] = r.Error
	}
	return resp
}

// ExecContext - явный контекст выполнения, передаваемый каждому инструменту.
//
// Содержит идентификаторы сессии и run, канал прогресса и сигнал
// кооперативной отмены run.
type ExecContext struct {
	SessionID string
	RunID     string

	// Progress сообщает статус длительной операции. Может быть nil.
	Progress func(status string)

	done <-chan struct{}
}

// NewExecContext создаёт ExecContext. done закрывается при отмене run.
func NewExecContext(sessionID, runID string, done <-chan struct{}) *ExecContext {
	return &ExecContext{SessionID: sessionID, RunID: runID, done: done}
}

// Done возвращает канал отмены run. nil-канал никогда не закрывается.
func (ec *ExecContext) Done() <-chan struct{} {
	if ec == nil {
		return nil
	}
	return ec.done
}

// Cancelled сообщает была ли запрошена отмена run.
func (ec *ExecContext) Cancelled() bool {
	if ec == nil || ec.done == nil {
		return false
	}
	select {
	case <-ec.done:
		return true
	default:
		return false
	}
}

// ReportProgress вызывает Progress если он задан.
func (ec *ExecContext) ReportProgress(status string) {
	if ec != nil && ec.Progress != nil {
		ec.Progress(status)
	}
}
