// Package chain реализует цикл диалога с вызовом инструментов.
//
// Orchestrator ведёт один run: модель → батч инструментов → модель,
// пока модель не даст финальный ответ, run не отменят или не будет
// исчерпан лимит ходов. История сессии живёт между run-ами.
package chain

import (
	"sync"

	"github.com/ilkoid/vaultmind/pkg/llm"
)

// History - append-only история диалога сессии.
//
// Thread-safe через sync.RWMutex: UI читает Snapshot, пока run пишет.
// Сообщения никогда не переписываются и не удаляются.
type History struct {
	mu       sync.RWMutex
	messages []llm.Message
}

// NewHistory создаёт историю из уже сохранённых сообщений.
func NewHistory(initial ...llm.Message) *History {
	h := &History{messages: make([]llm.Message, 0, len(initial)+10)}
	h.messages = append(h.messages, initial...)
	return h
}

// Append добавляет сообщение в конец.
func (h *History) Append(msg llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

// Snapshot возвращает копию сообщений.
func (h *History) Snapshot() []llm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]llm.Message, len(h.messages))
	copy(result, h.messages)
	return result
}

// Len возвращает количество сообщений.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Last возвращает последнее сообщение или nil.
func (h *History) Last() *llm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.messages) == 0 {
		return nil
	}
	msg := h.messages[len(h.messages)-1]
	return &msg
}
