// Базовые типы - определяем универсальный язык общения с моделями.
//
// Формат истории повторяет протокол function calling: модель отвечает
// частями functionCall, следующий ход содержит functionResponse с теми же
// именами в том же порядке. Провайдеры (openai, gemini) конвертируют
// эти типы в свой wire-формат и обратно.
package llm

import "strings"

// Role - автор сообщения в истории.
type Role string

// Константы для удобства
const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"

	// RoleSystem используется только провайдерами для system instruction,
	// в историю диалога не попадает.
	RoleSystem Role = "system"
)

// JSONSchema представляет JSON Schema для параметров инструмента.
//
// Используется вместо interface{} для типобезопасности.
// Формат - JSON Schema, как его принимает Function Calling API.
type JSONSchema map[string]any

// ToolDefinition описывает инструмент для LLM (Function Calling API format).
type ToolDefinition struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  JSONSchema `json:"parameters"` // JSON Schema объекта аргументов
}

// FunctionCall - запрос модели на вызов инструмента.
//
// ThoughtSignature - непрозрачный токен провайдера (Gemini thinking models).
// Хранится и возвращается модели байт-в-байт, никогда не парсится.
type FunctionCall struct {
	ID               string         `json:"id,omitempty"`
	Name             string         `json:"name"`
	Args             map[string]any `json:"args"`
	ThoughtSignature []byte         `json:"thought_signature,omitempty"`
}

// FunctionResponse - результат выполнения инструмента для модели.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Part - одна часть сообщения. Заполнено ровно одно поле.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// TextPart создаёт текстовую часть.
func TextPart(text string) Part {
	return Part{Text: text}
}

// Message - одно сообщение истории.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewTextMessage создаёт сообщение из одной текстовой части.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart(text)}}
}

// Text склеивает все текстовые части сообщения.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// FunctionCalls возвращает все functionCall части сообщения по порядку.
func (m Message) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range m.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses возвращает все functionResponse части сообщения по порядку.
func (m Message) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, p := range m.Parts {
		if p.FunctionResponse != nil {
			responses = append(responses, *p.FunctionResponse)
		}
	}
	return responses
}

// ToolCall - вызов инструмента, извлечённый из финального состояния ответа.
//
// Создаётся провайдером, потребляется ToolExecutionEngine.
type ToolCall struct {
	ID               string
	Name             string
	Args             map[string]any
	ThoughtSignature []byte
}

// Part конвертирует ToolCall в functionCall часть для истории.
// Сигнатура переносится без изменений.
func (tc ToolCall) Part() Part {
	return Part{FunctionCall: &FunctionCall{
		ID:               tc.ID,
		Name:             tc.Name,
		Args:             tc.Args,
		ThoughtSignature: tc.ThoughtSignature,
	}}
}

// Response - финальный результат одного хода модели.
type Response struct {
	Text         string
	Thought      string
	ToolCalls    []ToolCall
	FinishReason string

	// Cancelled - стрим был остановлен пользователем, Text содержит
	// накопленный к этому моменту текст.
	Cancelled bool
}

// IsEmpty сообщает что модель не вернула ни текста, ни вызовов инструментов.
func (r Response) IsEmpty() bool {
	return strings.TrimSpace(r.Text) == "" && len(r.ToolCalls) == 0
}

// StreamChunk - инкрементальная порция ответа (delta).
//
// Потребитель накапливает чанки, а не заменяет ими предыдущие.
type StreamChunk struct {
	Text    string
	Thought string
}
