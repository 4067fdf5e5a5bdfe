package events

import (
	"context"
	"sync"
)

// ChanEmitter доставляет события run единственному потребителю через канал.
//
// Используется в CLI: оркестратор пишет, TUI читает. Emit блокируется, пока
// потребитель не заберёт событие или не отменится ctx run, поэтому текстовые
// чанки не теряются. Для нескольких потребителей - Hub.
type ChanEmitter struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewChanEmitter создаёт эмиттер с буфером buffer (0 - небуферизованный).
func NewChanEmitter(buffer int) *ChanEmitter {
	return &ChanEmitter{ch: make(chan Event, buffer)}
}

// Emit отправляет событие. После Close - no-op.
//
// Read lock удерживается на время отправки: Close не закроет канал под
// отправителем.
func (e *ChanEmitter) Emit(ctx context.Context, event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.ch <- event:
	case <-ctx.Done():
	}
}

// Subscribe возвращает подписчика на общий канал.
// Повторные вызовы делят события между подписчиками, а не дублируют их.
func (e *ChanEmitter) Subscribe() Subscriber {
	return chanSubscriber(e.ch)
}

// Close закрывает канал. Повторный вызов безопасен.
func (e *ChanEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}

// chanSubscriber - read-only вид канала ChanEmitter.
type chanSubscriber <-chan Event

func (s chanSubscriber) Events() <-chan Event { return s }

// Close ничего не делает: канал принадлежит ChanEmitter.
func (s chanSubscriber) Close() {}

var (
	_ Emitter    = (*ChanEmitter)(nil)
	_ Subscriber = chanSubscriber(nil)
)
