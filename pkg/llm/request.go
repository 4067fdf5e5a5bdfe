package llm

import (
	"errors"
	"fmt"
)

// ErrUnsupportedRequest возвращается провайдером для неизвестного вида запроса.
var ErrUnsupportedRequest = errors.New("unsupported request kind")

// Request - sealed interface запроса к модели.
//
// Только типы из пакета llm реализуют этот интерфейс, провайдеры
// различают варианты через type switch.
type Request interface {
	request()
}

// SimpleRequest - одиночный prompt без истории и инструментов.
type SimpleRequest struct {
	Prompt  string
	Options GenerateOptions
}

func (SimpleRequest) request() {}

// ConversationRequest - ход диалога: полная история, опциональное
// новое сообщение пользователя и определения инструментов.
//
// Пустой UserMessage означает продолжение после functionResponse:
// в историю ничего не добавляется.
type ConversationRequest struct {
	System      string
	History     []Message
	UserMessage string
	Tools       []ToolDefinition
	Options     GenerateOptions
}

func (ConversationRequest) request() {}

// Prepared - запрос, нормализованный для провайдера.
type Prepared struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
	Options  GenerateOptions
}

// Prepare разворачивает Request в последовательность сообщений.
//
// История копируется: провайдер не может изменить историю оркестратора.
func Prepare(req Request) (Prepared, error) {
	switch r := req.(type) {
	case SimpleRequest:
		return Prepared{
			Messages: []Message{NewTextMessage(RoleUser, r.Prompt)},
			Options:  r.Options,
		}, nil

	case *SimpleRequest:
		return Prepare(*r)

	case ConversationRequest:
		msgs := make([]Message, 0, len(r.History)+1)
		msgs = append(msgs, r.History...)
		if r.UserMessage != "" {
			msgs = append(msgs, NewTextMessage(RoleUser, r.UserMessage))
		}
		return Prepared{
			System:   r.System,
			Messages: msgs,
			Tools:    r.Tools,
			Options:  r.Options,
		}, nil

	case *ConversationRequest:
		return Prepare(*r)

	default:
		return Prepared{}, fmt.Errorf("%w: %T", ErrUnsupportedRequest, req)
	}
}
