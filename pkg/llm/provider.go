// Интерфейс клиента модели через который работает всё приложение.

package llm

import "context"

// Client - контракт для любого AI-сервиса.
//
// # Rule 4: LLM Abstraction
//
// Работаем через интерфейс, конкретные реализации (OpenAI, Gemini)
// скрыты за этой абстракцией. RetryClient реализует тот же контракт
// и прозрачен для вызывающего кода.
//
// # Rule 11: Context Propagation
//
// Все методы уважают context.Context.
type Client interface {
	// Send выполняет запрос и возвращает финальный ответ.
	Send(ctx context.Context, req Request) (Response, error)

	// Stream запускает потоковую генерацию и сразу возвращает handle.
	//
	// onChunk вызывается синхронно для каждой порции в порядке поступления.
	// Ошибка возвращается только если стрим не удалось создать,
	// ошибки транспорта приходят через Stream.Wait().
	Stream(ctx context.Context, req Request, onChunk func(StreamChunk)) (*Stream, error)
}
