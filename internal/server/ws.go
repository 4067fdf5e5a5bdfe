package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/ilkoid/vaultmind/pkg/chain"
	"github.com/ilkoid/vaultmind/pkg/events"
	"github.com/ilkoid/vaultmind/pkg/permission"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsPingInterval   = 30 * time.Second
	wsMaxMessageSize = 64 * 1024
)

// Типы сообщений WebSocket клиента.
const (
	wsTypeMessage  = "message"
	wsTypeCancel   = "cancel"
	wsTypeApproval = "approval"

	wsTypeResult = "result"
	wsTypeError  = "command_error"
)

// wsCommand - сообщение от клиента.
//
//	{"type":"message","message":"..."}
//	{"type":"cancel"}
//	{"type":"approval","approval_id":"...","decision":"confirm","remember":true}
type wsCommand struct {
	Type       string `json:"type"`
	Message    string `json:"message,omitempty"`
	ApprovalID string `json:"approval_id,omitempty"`
	Decision   string `json:"decision,omitempty"`
	Remember   bool   `json:"remember,omitempty"`
}

// wsReply - ответ сервера на команду (результат run или ошибка).
type wsReply struct {
	Type   string       `json:"type"`
	Error  string       `json:"error,omitempty"`
	Result *RunResponse `json:"result,omitempty"`
}

// wsConn - одно WebSocket соединение сессии.
//
// Пишет в соединение только writePump: события Hub и ответы на команды
// идут через него.
type wsConn struct {
	conn      *websocket.Conn
	sessionID string
	entry     *sessionEntry
	sub       events.Subscriber
	replies   chan wsReply
	done      chan struct{}
}

// HandleWebSocket поднимает WebSocket для сессии.
// GET /v1/sessions/:session_id/ws
//
// Сервер шлёт каждое событие сессии (тот же JSON, что и в SSE) и
// ответы на команды клиента. Закрытие соединения не отменяет run.
func (s *Server) HandleWebSocket(c echo.Context) error {
	sessionID := c.Param("session_id")
	entry, err := s.session(c.Request().Context(), sessionID)
	if err != nil {
		utils.Error("Failed to open session", "session", sessionID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to open session")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		utils.Warn("WebSocket upgrade failed", "session", sessionID, "error", err)
		return nil
	}

	wc := &wsConn{
		conn:      conn,
		sessionID: sessionID,
		entry:     entry,
		sub:       entry.hub.Subscribe(sseBuffer),
		replies:   make(chan wsReply, 8),
		done:      make(chan struct{}),
	}
	utils.Info("WebSocket connected", "session", sessionID)

	go wc.writePump()
	s.readPump(wc)
	return nil
}

// readPump читает команды клиента до закрытия соединения.
func (s *Server) readPump(wc *wsConn) {
	defer func() {
		close(wc.done)
		wc.sub.Close()
		wc.conn.Close()
		utils.Info("WebSocket disconnected", "session", wc.sessionID)
	}()

	wc.conn.SetReadLimit(wsMaxMessageSize)
	wc.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	wc.conn.SetPongHandler(func(string) error {
		return wc.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.Warn("WebSocket read failed", "session", wc.sessionID, "error", err)
			}
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			wc.reply(wsReply{Type: wsTypeError, Error: "invalid JSON message"})
			continue
		}
		s.handleCommand(wc, cmd)
	}
}

// writePump пересылает события Hub и ответы, держит ping.
func (wc *wsConn) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		wc.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-wc.sub.Events():
			if !ok {
				wc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				wc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := wc.writeJSON(toWireEvent(ev)); err != nil {
				return
			}

		case r := <-wc.replies:
			if err := wc.writeJSON(r); err != nil {
				return
			}

		case <-ticker.C:
			wc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := wc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-wc.done:
			return
		}
	}
}

func (wc *wsConn) writeJSON(v any) error {
	wc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return wc.conn.WriteJSON(v)
}

// reply ставит ответ в очередь writePump. После закрытия соединения - no-op.
func (wc *wsConn) reply(r wsReply) {
	select {
	case wc.replies <- r:
	case <-wc.done:
	}
}

func (s *Server) handleCommand(wc *wsConn, cmd wsCommand) {
	switch cmd.Type {
	case wsTypeMessage:
		if strings.TrimSpace(cmd.Message) == "" {
			wc.reply(wsReply{Type: wsTypeError, Error: "message is required"})
			return
		}
		if wc.entry.orch.Running() {
			wc.reply(wsReply{Type: wsTypeError, Error: chain.ErrRunInProgress.Error()})
			return
		}
		// Run живёт дольше соединения, как и в HTTP обработчике
		go func() {
			out, err := wc.entry.orch.Run(context.Background(), chain.RunInput{UserMessage: cmd.Message}, nil)
			if errors.Is(err, chain.ErrRunInProgress) {
				wc.reply(wsReply{Type: wsTypeError, Error: err.Error()})
				return
			}
			resp := newRunResponse(wc.sessionID, runResult{out: out, err: err})
			wc.reply(wsReply{Type: wsTypeResult, Result: &resp})
		}()

	case wsTypeCancel:
		wc.entry.orch.Cancel()

	case wsTypeApproval:
		d, ok := DecisionRequest{Decision: cmd.Decision, Remember: cmd.Remember}.toDecision()
		if !ok {
			wc.reply(wsReply{Type: wsTypeError, Error: errBadDecision})
			return
		}
		if err := s.components.Gate.Decide(cmd.ApprovalID, d); err != nil {
			msg := err.Error()
			if errors.Is(err, permission.ErrRequestNotFound) {
				msg = "approval not found"
			} else if errors.Is(err, permission.ErrAlreadyResolved) {
				msg = "approval already resolved"
			}
			wc.reply(wsReply{Type: wsTypeError, Error: msg})
		}

	default:
		wc.reply(wsReply{Type: wsTypeError, Error: "unknown message type: " + cmd.Type})
	}
}
