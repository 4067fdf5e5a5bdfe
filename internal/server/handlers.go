package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ilkoid/vaultmind/pkg/chain"
	"github.com/ilkoid/vaultmind/pkg/events"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/permission"
	"github.com/ilkoid/vaultmind/pkg/session"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

// MessageRequest - тело POST /v1/sessions/:session_id/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

// RunResponse - итог run.
type RunResponse struct {
	SessionID  string `json:"session_id"`
	RunID      string `json:"run_id"`
	State      string `json:"state"`
	Text       string `json:"text"`
	Degraded   bool   `json:"degraded,omitempty"`
	Turns      int    `json:"turns"`
	ToolCalls  int    `json:"tool_calls"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// DecisionRequest - тело POST /v1/approvals/:approval_id.
type DecisionRequest struct {
	Decision string `json:"decision"` // "confirm" или "deny"
	Remember bool   `json:"remember"`
}

const errBadDecision = "decision must be 'confirm' or 'deny'"

func (r DecisionRequest) toDecision() (permission.Decision, bool) {
	switch r.Decision {
	case "confirm":
		return permission.Decision{Confirmed: true, RememberForSession: r.Remember}, true
	case "deny":
		return permission.Decision{Confirmed: false}, true
	}
	return permission.Decision{}, false
}

type runResult struct {
	out chain.RunOutput
	err error
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func newRunResponse(sessionID string, res runResult) RunResponse {
	resp := RunResponse{
		SessionID:  sessionID,
		RunID:      res.out.RunID,
		State:      res.out.State.String(),
		Text:       res.out.Text,
		Degraded:   res.out.Degraded,
		Turns:      res.out.Turns,
		ToolCalls:  res.out.ToolCalls,
		DurationMs: res.out.Duration.Milliseconds(),
	}
	if res.err != nil {
		resp.Error = res.err.Error()
	}
	return resp
}

// ListSessions возвращает сохранённые сессии.
// GET /v1/sessions
func (s *Server) ListSessions(c echo.Context) error {
	infos, err := s.components.Store.Sessions(c.Request().Context())
	if err != nil {
		utils.Error("Failed to list sessions", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to list sessions")
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": infos})
}

// CreateSession открывает новую сессию со сгенерированным id.
// POST /v1/sessions
func (s *Server) CreateSession(c echo.Context) error {
	id := uuid.NewString()
	if _, err := s.session(c.Request().Context(), id); err != nil {
		utils.Error("Failed to create session", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to create session")
	}
	return c.JSON(http.StatusCreated, map[string]string{"session_id": id})
}

// SendMessage запускает run.
// POST /v1/sessions/:session_id/messages
//
// С заголовком Accept: text/event-stream события run отдаются как SSE,
// последним идёт событие "result". Иначе ответ - RunResponse в JSON.
func (s *Server) SendMessage(c echo.Context) error {
	sessionID := c.Param("session_id")

	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errorJSON(c, http.StatusBadRequest, "message is required")
	}

	entry, err := s.session(c.Request().Context(), sessionID)
	if err != nil {
		utils.Error("Failed to open session", "session", sessionID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to open session")
	}
	if entry.orch.Running() {
		return errorJSON(c, http.StatusConflict, chain.ErrRunInProgress.Error())
	}

	streaming := strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream")

	var sub events.Subscriber
	if streaming {
		// Подписка до старта run, чтобы не потерять первые события
		sub = entry.hub.Subscribe(sseBuffer)
		defer sub.Close()
	}

	// Run переживает обрыв соединения: отмена только кооперативная
	runCtx := context.WithoutCancel(c.Request().Context())
	resultCh := make(chan runResult, 1)
	go func() {
		out, err := entry.orch.Run(runCtx, chain.RunInput{UserMessage: req.Message}, nil)
		resultCh <- runResult{out: out, err: err}
	}()

	if !streaming {
		select {
		case res := <-resultCh:
			return s.finishJSON(c, sessionID, res)
		case <-c.Request().Context().Done():
			entry.orch.Cancel()
			return nil
		}
	}

	return s.streamRun(c, sessionID, entry, sub, resultCh)
}

func (s *Server) finishJSON(c echo.Context, sessionID string, res runResult) error {
	if errors.Is(res.err, chain.ErrRunInProgress) {
		return errorJSON(c, http.StatusConflict, res.err.Error())
	}
	status := http.StatusOK
	if res.err != nil {
		status = http.StatusBadGateway
	}
	return c.JSON(status, newRunResponse(sessionID, res))
}

// streamRun пересылает события сессии в SSE до завершения run.
func (s *Server) streamRun(c echo.Context, sessionID string, entry *sessionEntry, sub events.Subscriber, resultCh <-chan runResult) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := writeSSE(c, string(ev.Type), toWireEvent(ev)); err != nil {
				entry.orch.Cancel()
				return nil
			}

		case res := <-resultCh:
			// Emit синхронный: к этому моменту все события run уже в буфере
			for drained := false; !drained; {
				select {
				case ev, ok := <-sub.Events():
					if !ok {
						drained = true
						break
					}
					if err := writeSSE(c, string(ev.Type), toWireEvent(ev)); err != nil {
						return nil
					}
				default:
					drained = true
				}
			}
			return writeSSE(c, "result", newRunResponse(sessionID, res))

		case <-c.Request().Context().Done():
			utils.Info("SSE client disconnected, cancelling run", "session", sessionID)
			entry.orch.Cancel()
			return nil
		}
	}
}

// wireEvent - событие в JSON для SSE.
type wireEvent struct {
	Type      events.EventType `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	RunID     string           `json:"run_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Data      any              `json:"data,omitempty"`
}

func toWireEvent(ev events.Event) wireEvent {
	we := wireEvent{
		Type:      ev.Type,
		SessionID: ev.SessionID,
		RunID:     ev.RunID,
		Timestamp: ev.Timestamp,
		Data:      ev.Data,
	}
	// error не сериализуется в JSON
	if data, ok := ev.Data.(events.ErrorData); ok && data.Err != nil {
		we.Data = map[string]any{"error": data.Err.Error(), "terminal": data.Terminal}
	}
	return we
}

// writeSSE пишет одно событие: event: <name>\ndata: <json>\n\n
func writeSSE(c echo.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	w := c.Response()
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// CancelRun запрашивает отмену текущего run сессии.
// POST /v1/sessions/:session_id/cancel
func (s *Server) CancelRun(c echo.Context) error {
	sessionID := c.Param("session_id")
	entry, ok := s.lookup(sessionID)
	if !ok {
		return errorJSON(c, http.StatusNotFound, "session not found")
	}

	running := entry.orch.Running()
	entry.orch.Cancel()
	return c.JSON(http.StatusAccepted, map[string]any{"session_id": sessionID, "cancelled": running})
}

// GetHistory возвращает историю сессии.
// GET /v1/sessions/:session_id/history
func (s *Server) GetHistory(c echo.Context) error {
	sessionID := c.Param("session_id")

	var messages []llm.Message
	if entry, ok := s.lookup(sessionID); ok {
		messages = entry.orch.History()
	} else {
		loaded, err := s.components.Store.Load(c.Request().Context(), sessionID)
		if errors.Is(err, session.ErrSessionNotFound) {
			return errorJSON(c, http.StatusNotFound, "session not found")
		}
		if err != nil {
			utils.Error("Failed to load history", "session", sessionID, "error", err)
			return errorJSON(c, http.StatusInternalServerError, "failed to load history")
		}
		messages = loaded
	}

	if messages == nil {
		messages = []llm.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"session_id": sessionID, "messages": messages})
}

// ListApprovals возвращает ожидающие подтверждения.
// GET /v1/approvals
func (s *Server) ListApprovals(c echo.Context) error {
	pending := s.components.Gate.Pending()
	if sessionID := c.QueryParam("session_id"); sessionID != "" {
		filtered := pending[:0]
		for _, p := range pending {
			if p.Request.SessionID == sessionID {
				filtered = append(filtered, p)
			}
		}
		pending = filtered
	}
	if pending == nil {
		pending = []permission.Pending{}
	}
	return c.JSON(http.StatusOK, map[string]any{"approvals": pending})
}

// DecideApproval доставляет решение пользователя.
// POST /v1/approvals/:approval_id
func (s *Server) DecideApproval(c echo.Context) error {
	id := c.Param("approval_id")

	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	d, ok := req.toDecision()
	if !ok {
		return errorJSON(c, http.StatusBadRequest, errBadDecision)
	}

	err := s.components.Gate.Decide(id, d)
	switch {
	case errors.Is(err, permission.ErrRequestNotFound):
		return errorJSON(c, http.StatusNotFound, "approval not found")
	case errors.Is(err, permission.ErrAlreadyResolved):
		return errorJSON(c, http.StatusConflict, "approval already resolved")
	case err != nil:
		utils.Error("Failed to decide approval", "id", id, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to decide approval")
	}

	return c.JSON(http.StatusOK, map[string]any{"id": id, "decision": req.Decision, "remember": d.RememberForSession})
}
