package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/w-h-a/ragchat/internal/service/chat"
	"github.com/w-h-a/ragchat/sessionstore"
)

const (
	EventMessage = "chat:message"
	EventTyping  = "chat:typing"
	EventError   = "error"
)

type clientEvent struct {
	Event     string `json:"event"`
	SessionId string `json:"sessionId"`
	Message   string `json:"message"`
}

type serverEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type Handler struct {
	chat     *chat.Service
	upgrader websocket.Upgrader
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var event clientEvent
		if err := conn.ReadJSON(&event); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.WarnContext(r.Context(), "websocket read failed", "error", err)
			}
			return
		}

		switch event.Event {
		case EventMessage:
			h.handleMessage(r.Context(), conn, event)
		default:
			h.emit(conn, EventError, map[string]string{"message": "unknown event"})
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, event clientEvent) {
	if len(event.SessionId) == 0 || len(event.Message) == 0 {
		h.emit(conn, EventError, map[string]string{"message": "sessionId and message are required"})
		return
	}

	h.emit(conn, EventTyping, map[string]bool{"isTyping": true})
	// the typing indicator must clear on every exit path
	defer h.emit(conn, EventTyping, map[string]bool{"isTyping": false})

	rsp, err := h.chat.Respond(ctx, event.SessionId, event.Message)
	if errors.Is(err, sessionstore.ErrSessionNotFound) {
		h.emit(conn, EventError, map[string]string{"message": "Session not found"})
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "websocket chat failed", "session_id", event.SessionId, "error", err)
		h.emit(conn, EventError, map[string]string{"message": "Failed to process message"})
		return
	}

	h.emit(conn, EventMessage, map[string]any{
		"message": rsp.Response,
		"history": rsp.History,
	})
}

func (h *Handler) emit(conn *websocket.Conn, event string, data any) {
	if err := conn.WriteJSON(serverEvent{Event: event, Data: data}); err != nil {
		slog.Warn("websocket write failed", "event", event, "error", err)
	}
}

func NewHandler(svc *chat.Service, allowedOrigin string) *Handler {
	return &Handler{
		chat: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origin) == 0 || origin == allowedOrigin
			},
		},
	}
}
