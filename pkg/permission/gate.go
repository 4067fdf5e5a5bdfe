// Package permission предоставляет Gate для подтверждения опасных вызовов инструментов.
//
// Gate является центральным хабом между ToolExecutionEngine (ждёт решения)
// и UI (TUI, HTTP API), который показывает запрос пользователю.
//
// Паттерн:
//  1. Engine вызывает Request() и блокируется
//  2. UI получает запрос через OnPending/Pending()
//  3. Пользователь подтверждает или отклоняет
//  4. UI отправляет решение через Decide()
//  5. Request() разблокируется и возвращает Outcome
//
// Если решение не пришло за Timeout, запрос переходит в TimedOut.
// Побеждает первое событие, остальные становятся no-op.
package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ilkoid/vaultmind/pkg/utils"
)

// DefaultTimeout - сколько Gate ждёт решения пользователя.
const DefaultTimeout = 60 * time.Second

// resolvedHistorySize - сколько завершённых запросов помнить для ErrAlreadyResolved.
const resolvedHistorySize = 256

var (
	// ErrRequestNotFound возвращается Decide() для неизвестного ID.
	ErrRequestNotFound = errors.New("permission request not found")

	// ErrAlreadyResolved возвращается Decide() если запрос уже завершён
	// (решением, таймаутом или отменой).
	ErrAlreadyResolved = errors.New("permission request already resolved")
)

// Status - состояние запроса.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDenied    Status = "denied"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// Decision - решение пользователя.
type Decision struct {
	Confirmed bool `json:"confirmed"`

	// RememberForSession добавляет инструмент в allow-list сессии.
	// Учитывается только вместе с Confirmed.
	RememberForSession bool `json:"remember_for_session"`
}

// Request - запрос на выполнение инструмента.
type Request struct {
	ToolName  string         `json:"tool_name"`
	Args      map[string]any `json:"args,omitempty"`
	SessionID string         `json:"session_id"`
	RunID     string         `json:"run_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`

	// Notify вызывается когда запрос зарегистрирован (до ожидания).
	Notify func(Pending) `json:"-"`
}

// Pending - ожидающий решения запрос, как его видит UI.
type Pending struct {
	ID        string    `json:"id"`
	Request   Request   `json:"request"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Outcome - результат запроса.
type Outcome struct {
	ID     string `json:"id,omitempty"`
	Status Status `json:"status"`

	// AutoApproved - инструмент был в allow-list, пользователя не спрашивали.
	AutoApproved bool `json:"auto_approved,omitempty"`

	// Remembered - решение добавило инструмент в allow-list.
	Remembered bool `json:"remembered,omitempty"`
}

// Approved сообщает можно ли выполнять инструмент.
func (o Outcome) Approved() bool {
	return o.Status == StatusConfirmed
}

type pendingRequest struct {
	Pending
	status     Status
	remembered bool
	done       chan struct{}
}

// Gate управляет подтверждениями.
//
// Потокобезопасен: один Gate обслуживает несколько сессий,
// allow-list хранится отдельно для каждой SessionID.
type Gate struct {
	mu       sync.Mutex
	pending  map[string]*pendingRequest
	resolved map[string]Status
	order    []string
	allowed  map[string]map[string]bool // sessionID → toolName

	timeout   time.Duration
	after     func(time.Duration) <-chan time.Time
	now       func() time.Time
	onPending func(Pending)
}

// Option настраивает Gate.
type Option func(*Gate)

// WithTimeout задаёт таймаут ожидания решения.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(g *Gate) {
		g.now = now
		g.after = after
	}
}

// NewGate создаёт Gate.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		pending:  make(map[string]*pendingRequest),
		resolved: make(map[string]Status),
		allowed:  make(map[string]map[string]bool),
		timeout:  DefaultTimeout,
		after:    time.After,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Timeout возвращает таймаут ожидания решения.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

// OnPending регистрирует callback для UI. Вызывается для каждого нового запроса.
func (g *Gate) OnPending(fn func(Pending)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onPending = fn
}

// Request регистрирует запрос и блокируется до решения, таймаута или отмены ctx.
//
// Инструменты из allow-list сессии подтверждаются сразу.
func (g *Gate) Request(ctx context.Context, req Request) (Outcome, error) {
	if req.ToolName == "" {
		return Outcome{}, fmt.Errorf("permission request: tool name is required")
	}

	if g.IsAllowed(req.SessionID, req.ToolName) {
		utils.Debug("Permission auto-approved", "tool", req.ToolName, "session", req.SessionID)
		return Outcome{Status: StatusConfirmed, AutoApproved: true}, nil
	}

	now := g.now()
	p := &pendingRequest{
		Pending: Pending{
			ID:        uuid.NewString(),
			Request:   req,
			CreatedAt: now,
			ExpiresAt: now.Add(g.timeout),
		},
		status: StatusPending,
		done:   make(chan struct{}),
	}

	g.mu.Lock()
	g.pending[p.ID] = p
	onPending := g.onPending
	g.mu.Unlock()

	// Таймаут отсчитывается с входа в Pending: медленный потребитель
	// уведомлений не продлевает окно дальше ExpiresAt.
	expired := g.after(g.timeout)

	utils.Info("Permission requested", "id", p.ID, "tool", req.ToolName, "session", req.SessionID)

	if req.Notify != nil {
		req.Notify(p.Pending)
	}
	if onPending != nil {
		onPending(p.Pending)
	}

	select {
	case <-p.done:
	case <-expired:
		_ = g.resolve(p.ID, StatusTimedOut, false)
	case <-ctx.Done():
		_ = g.resolve(p.ID, StatusCancelled, false)
	}

	g.mu.Lock()
	outcome := Outcome{ID: p.ID, Status: p.status, Remembered: p.remembered}
	g.mu.Unlock()

	switch outcome.Status {
	case StatusTimedOut:
		utils.Warn("Permission request timed out", "id", p.ID, "tool", req.ToolName, "timeout", g.timeout)
	case StatusDenied:
		utils.Info("Permission denied", "id", p.ID, "tool", req.ToolName)
	case StatusCancelled:
		utils.Info("Permission request cancelled", "id", p.ID, "tool", req.ToolName)
		return outcome, ctx.Err()
	default:
		utils.Info("Permission confirmed", "id", p.ID, "tool", req.ToolName, "remembered", outcome.Remembered)
	}

	return outcome, nil
}

// Decide доставляет решение пользователя.
//
// Возвращает ErrAlreadyResolved если запрос уже завершён
// и ErrRequestNotFound для неизвестного ID.
func (g *Gate) Decide(id string, d Decision) error {
	status := StatusDenied
	if d.Confirmed {
		status = StatusConfirmed
	}
	return g.resolve(id, status, d.Confirmed && d.RememberForSession)
}

// resolve переводит запрос в терминальное состояние. Только первый вызов успешен.
func (g *Gate) resolve(id string, status Status, remember bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[id]
	if !ok {
		if _, done := g.resolved[id]; done {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
		}
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}

	p.status = status
	if status == StatusConfirmed && remember {
		g.allowLocked(p.Request.SessionID, p.Request.ToolName)
		p.remembered = true
	}

	delete(g.pending, id)
	g.rememberResolvedLocked(id, status)
	close(p.done)
	return nil
}

func (g *Gate) rememberResolvedLocked(id string, status Status) {
	g.resolved[id] = status
	g.order = append(g.order, id)
	if len(g.order) > resolvedHistorySize {
		delete(g.resolved, g.order[0])
		g.order = g.order[1:]
	}
}

// Allow добавляет инструмент в allow-list сессии.
func (g *Gate) Allow(sessionID, toolName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowLocked(sessionID, toolName)
}

func (g *Gate) allowLocked(sessionID, toolName string) {
	tools, ok := g.allowed[sessionID]
	if !ok {
		tools = make(map[string]bool)
		g.allowed[sessionID] = tools
	}
	tools[toolName] = true
}

// IsAllowed проверяет allow-list сессии.
func (g *Gate) IsAllowed(sessionID, toolName string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowed[sessionID][toolName]
}

// ResetSession очищает allow-list сессии.
func (g *Gate) ResetSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.allowed, sessionID)
}

// Get возвращает ожидающий запрос по ID.
func (g *Gate) Get(id string) (Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[id]
	if !ok {
		return Pending{}, false
	}
	return p.Pending, true
}

// Pending возвращает все ожидающие запросы в порядке создания.
func (g *Gate) Pending() []Pending {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := make([]Pending, 0, len(g.pending))
	for _, p := range g.pending {
		result = append(result, p.Pending)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
