// Package session хранит историю диалогов между запусками.
//
// Store - порт персистентности: оркестратор вызывает Append после
// каждого добавленного сообщения и Load перед первым run сессии.
// Сообщения хранятся целиком, включая thought signatures.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ilkoid/vaultmind/pkg/config"
	"github.com/ilkoid/vaultmind/pkg/llm"
)

// ErrSessionNotFound возвращается Load для неизвестной сессии.
var ErrSessionNotFound = errors.New("session not found")

// Store - хранилище истории.
type Store interface {
	// Append добавляет сообщение в конец истории сессии, создавая сессию при необходимости.
	Append(ctx context.Context, sessionID string, msg llm.Message) error

	// Load возвращает историю в порядке добавления.
	Load(ctx context.Context, sessionID string) ([]llm.Message, error)

	// Sessions возвращает сводку по сессиям, новые первыми.
	Sessions(ctx context.Context) ([]Info, error)

	Close() error
}

// Info - сводка по сессии.
type Info struct {
	ID        string    `json:"id"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryStore - Store в памяти процесса. Используется по умолчанию и в тестах.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	now      func() time.Time
}

type memorySession struct {
	info     Info
	messages []llm.Message
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, msg llm.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &memorySession{info: Info{ID: sessionID, CreatedAt: now}}
		s.sessions[sessionID] = sess
	}
	sess.messages = append(sess.messages, cloneMessage(msg))
	sess.info.Messages = len(sess.messages)
	sess.info.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]llm.Message, len(sess.messages))
	for i, m := range sess.messages {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

func (s *MemoryStore) Sessions(_ context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Info, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// cloneMessage копирует слайс parts: вызывающий код не должен
// менять сохранённую историю через общий backing array.
func cloneMessage(m llm.Message) llm.Message {
	parts := make([]llm.Part, len(m.Parts))
	copy(parts, m.Parts)
	return llm.Message{Role: m.Role, Parts: parts}
}

// Open создаёт Store по настройкам.
func Open(cfg config.SessionConfig) (Store, error) {
	cfg = cfg.GetDefaults()
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		return NewSQLiteStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown session driver: %q", cfg.Driver)
	}
}
