package events

import (
	"context"
	"sync"
)

// Hub - Emitter с раздачей каждого события всем подписчикам.
//
// В отличие от ChanEmitter у каждого подписчика свой канал: HTTP
// сервер открывает по подписке на каждый SSE запрос. Emit блокируется,
// пока все подписчики не примут событие, отписались или ctx отменён.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*hubSubscriber]struct{}
	closed bool
}

// NewHub создаёт пустой Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSubscriber]struct{})}
}

// Emit implements Emitter.
func (h *Hub) Emit(ctx context.Context, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		select {
		case s.ch <- event:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}
}

// Subscribe регистрирует нового подписчика с буфером buffer.
func (h *Hub) Subscribe(buffer int) Subscriber {
	s := &hubSubscriber{
		hub:  h,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Len возвращает количество активных подписчиков.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close закрывает каналы всех подписчиков.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}

type hubSubscriber struct {
	hub  *Hub
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *hubSubscriber) Events() <-chan Event {
	return s.ch
}

// Close отписывает подписчика. Канал Events() при этом не закрывается.
func (s *hubSubscriber) Close() {
	s.once.Do(func() {
		// Сначала done: Emit, ждущий этого подписчика, отпускает read lock
		close(s.done)
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
	})
}

var (
	_ Emitter    = (*Hub)(nil)
	_ Subscriber = (*hubSubscriber)(nil)
)
