// Package events предоставляет интерфейсы для реализации Port & Adapter паттерна.
//
// Это Port (интерфейс) для подписки на события оркестратора диалога.
// Позволяет подключать любые UI (TUI, HTTP/SSE) без изменения библиотечной логики.
//
// # Basic Usage
//
//	emitter := events.NewChanEmitter(64)
//	orch := chain.New(chain.Config{Emitter: emitter, ...})
//
//	sub := emitter.Subscribe()
//	for event := range sub.Events() {
//	    switch data := event.Data.(type) {
//	    case events.TextChunkData:
//	        ui.append(data.Chunk)
//	    case events.PermissionData:
//	        ui.askUser(data)
//	    }
//	}
//
// # Thread Safety
//
// Все реализации интерфейсов должны быть thread-safe.
//
// # Rule 11: Context Propagation
//
// Emitter.Emit() принимает context.Context для отмены операции.
package events

import (
	"context"
	"time"
)

// EventType представляет тип события.
type EventType string

const (
	// EventThinking отправляется когда модель начинает очередной ход.
	EventThinking EventType = "thinking"

	// EventTextChunk отправляется для каждой порции текста ответа.
	EventTextChunk EventType = "text_chunk"

	// EventThinkingChunk отправляется для каждой порции thought/reasoning.
	EventThinkingChunk EventType = "thinking_chunk"

	// EventToolCall отправляется перед выполнением инструмента.
	EventToolCall EventType = "tool_call"

	// EventToolResult отправляется когда инструмент вернул результат.
	EventToolResult EventType = "tool_result"

	// EventPermissionRequest отправляется когда вызов ждёт подтверждения.
	EventPermissionRequest EventType = "permission_request"

	// EventPermissionResolved отправляется когда запрос подтверждения завершён.
	EventPermissionResolved EventType = "permission_resolved"

	// EventProgress - статус выполнения (ProgressSink).
	EventProgress EventType = "progress"

	// EventMessage отправляется когда модель сгенерировала финальный текст хода.
	EventMessage EventType = "message"

	// EventError отправляется при ошибке.
	EventError EventType = "error"

	// EventCancelled отправляется когда run остановлен пользователем.
	EventCancelled EventType = "cancelled"

	// EventDone отправляется когда run завершён.
	EventDone EventType = "done"
)

// EventData - sealed interface для данных события.
//
// Только типы из пакета events могут реализовать этот интерфейс,
// что обеспечивает compile-time type safety.
type EventData interface {
	eventData()
}

// ThinkingData содержит данные для EventThinking.
type ThinkingData struct {
	Query string `json:"query,omitempty"`
	Turn  int    `json:"turn"`
}

func (ThinkingData) eventData() {}

// TextChunkData содержит данные для EventTextChunk и EventThinkingChunk.
type TextChunkData struct {
	// Chunk - инкрементальные данные (delta)
	Chunk string `json:"chunk"`

	// Accumulated - накопленные данные за текущий ход
	Accumulated string `json:"accumulated"`
}

func (TextChunkData) eventData() {}

// ToolCallData содержит данные о вызове инструмента.
type ToolCallData struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

func (ToolCallData) eventData() {}

// ToolResultData содержит результат выполнения инструмента.
type ToolResultData struct {
	ToolName string        `json:"tool_name"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (ToolResultData) eventData() {}

// PermissionData содержит данные запроса подтверждения.
type PermissionData struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"tool_name"`
	Args      map[string]any `json:"args,omitempty"`
	Status    string         `json:"status"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
}

func (PermissionData) eventData() {}

// ProgressData содержит данные для EventProgress.
type ProgressData struct {
	Status string `json:"status"`
	Phase  string `json:"phase,omitempty"`
}

func (ProgressData) eventData() {}

// MessageData содержит данные для EventMessage, EventCancelled и EventDone.
type MessageData struct {
	Content string `json:"content"`
	State   string `json:"state,omitempty"`
}

func (MessageData) eventData() {}

// ErrorData содержит данные для EventError.
type ErrorData struct {
	Err error `json:"-"`

	// Terminal - ошибка завершила run (StateFailed).
	Terminal bool `json:"terminal,omitempty"`
}

func (ErrorData) eventData() {}

// Event представляет событие.
//
// Для каждого EventType существует соответствующий тип данных:
//   - EventThinking: ThinkingData
//   - EventTextChunk, EventThinkingChunk: TextChunkData
//   - EventToolCall: ToolCallData
//   - EventToolResult: ToolResultData
//   - EventPermissionRequest, EventPermissionResolved: PermissionData
//   - EventProgress: ProgressData
//   - EventMessage, EventCancelled, EventDone: MessageData
//   - EventError: ErrorData
type Event struct {
	Type      EventType `json:"type"`
	Data      EventData `json:"data"`
	SessionID string    `json:"session_id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New создаёт событие с текущим временем.
func New(t EventType, data EventData) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now()}
}

// Emitter - это Port для отправки событий.
//
// Emitter инвертирует зависимость: библиотека (pkg/chain, pkg/tools)
// зависит от этого интерфейса, а не от конкретного UI.
type Emitter interface {
	// Emit отправляет событие.
	//
	// Если context отменён, операция должна прерваться.
	Emit(ctx context.Context, event Event)
}

// Subscriber позволяет читать события из канала.
type Subscriber interface {
	// Events возвращает read-only канал событий.
	//
	// Канал закрывается при вызове Close() у emitter.
	Events() <-chan Event

	// Close освобождает ресурсы подписчика.
	Close()
}

// Emit отправляет событие если emitter не nil.
func Emit(ctx context.Context, e Emitter, event Event) {
	if e == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	e.Emit(ctx, event)
}

// EmitterFunc адаптирует функцию к интерфейсу Emitter.
type EmitterFunc func(ctx context.Context, event Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}

// MultiEmitter рассылает событие нескольким emitter по порядку.
type MultiEmitter []Emitter

// Emit implements Emitter.
func (m MultiEmitter) Emit(ctx context.Context, event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, event)
		}
	}
}
