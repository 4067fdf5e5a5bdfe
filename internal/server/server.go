// Package server - HTTP API поверх Orchestrator.
//
// Маршруты:
//
//	GET  /v1/sessions                         список сохранённых сессий
//	POST /v1/sessions                         новая сессия
//	POST /v1/sessions/:session_id/messages    run (SSE при Accept: text/event-stream)
//	POST /v1/sessions/:session_id/cancel      отмена текущего run
//	GET  /v1/sessions/:session_id/history     история сессии
//	GET  /v1/sessions/:session_id/ws          WebSocket: события и команды сессии
//	GET  /v1/approvals                        ожидающие подтверждения
//	POST /v1/approvals/:approval_id           решение по подтверждению
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ilkoid/vaultmind/pkg/app"
	"github.com/ilkoid/vaultmind/pkg/chain"
	"github.com/ilkoid/vaultmind/pkg/events"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

// sseBuffer - буфер событий одного SSE подписчика.
const sseBuffer = 64

// Server держит открытые сессии и echo роутер.
type Server struct {
	components *app.Components
	echo       *echo.Echo
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// sessionEntry - Orchestrator сессии и Hub его событий.
type sessionEntry struct {
	orch *chain.Orchestrator
	hub  *events.Hub
}

// New создаёт сервер и регистрирует маршруты.
func New(c *app.Components) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			utils.Info("HTTP request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds())
			return nil
		},
	}))

	s := &Server{
		components: c,
		echo:       e,
		sessions:   make(map[string]*sessionEntry),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes регистрирует маршруты API.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/v1")
	v1.GET("/sessions", s.ListSessions)
	v1.POST("/sessions", s.CreateSession)
	v1.POST("/sessions/:session_id/messages", s.SendMessage)
	v1.POST("/sessions/:session_id/cancel", s.CancelRun)
	v1.GET("/sessions/:session_id/history", s.GetHistory)
	v1.GET("/sessions/:session_id/ws", s.HandleWebSocket)
	v1.GET("/approvals", s.ListApprovals)
	v1.POST("/approvals/:approval_id", s.DecideApproval)
}

// Handler возвращает http.Handler сервера (для тестов и встраивания).
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start запускает HTTP сервер. Блокируется до Shutdown.
func (s *Server) Start(addr string) error {
	utils.Info("HTTP server starting", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown отменяет активные run-ы и останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, entry := range s.sessions {
		if entry.orch.Running() {
			utils.Info("Cancelling run on shutdown", "session", id)
			entry.orch.Cancel()
		}
	}
	s.mu.Unlock()

	err := s.echo.Shutdown(ctx)

	s.mu.Lock()
	for _, entry := range s.sessions {
		entry.hub.Close()
	}
	s.mu.Unlock()
	return err
}

// session возвращает открытую сессию или поднимает её из хранилища.
func (s *Server) session(ctx context.Context, id string) (*sessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.sessions[id]; ok {
		return entry, nil
	}

	hub := events.NewHub()
	orch, err := s.components.NewSession(ctx, id, hub)
	if err != nil {
		return nil, err
	}
	entry := &sessionEntry{orch: orch, hub: hub}
	s.sessions[id] = entry
	return entry, nil
}

// lookup возвращает открытую сессию без создания.
func (s *Server) lookup(id string) (*sessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	return entry, ok
}
