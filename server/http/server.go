package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/w-h-a/ragchat/internal/service/chat"
	"github.com/w-h-a/ragchat/internal/service/ingest"
	"github.com/w-h-a/ragchat/sessionstore"
)

// Check reports whether a backing service is reachable.
type Check func(ctx context.Context) error

type ServerConfig struct {
	Chat   *chat.Service
	Ingest *ingest.Service

	FeedURL     string
	Collection  string
	MaxArticles int

	AllowedOrigin string
	DevMode       bool

	// named health checks surfaced by GET /health
	Checks map[string]Check

	// optional websocket endpoint mounted at /ws
	WS http.Handler
}

type handlers struct {
	chat        *chat.Service
	ingest      *ingest.Service
	feedURL     string
	collection  string
	maxArticles int
	checks      map[string]Check
	devMode     bool
}

func NewHandler(cfg ServerConfig) http.Handler {
	h := &handlers{
		chat:        cfg.Chat,
		ingest:      cfg.Ingest,
		feedURL:     cfg.FeedURL,
		collection:  cfg.Collection,
		maxArticles: cfg.MaxArticles,
		checks:      cfg.Checks,
		devMode:     cfg.DevMode,
	}

	r := mux.NewRouter()

	r.HandleFunc("/session", h.createSession).Methods(http.MethodPost)
	r.HandleFunc("/session/{id}", h.getSession).Methods(http.MethodGet)
	r.HandleFunc("/session/{id}/reset", h.resetSession).Methods(http.MethodPost)
	r.HandleFunc("/chat", h.chatMessage).Methods(http.MethodPost)
	r.HandleFunc("/ingest-news", h.ingestNews).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	if cfg.WS != nil {
		r.Handle("/ws", cfg.WS)
	}

	r.Use(cors(cfg.AllowedOrigin))

	return r
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.chat.CreateSession(r.Context())
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "Failed to create session", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id})
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	history, err := h.chat.History(r.Context(), id)
	if errors.Is(err, sessionstore.ErrSessionNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "Failed to fetch chat history", err)
		return
	}

	writeJSON(w, http.StatusOK, history)
}

func (h *handlers) resetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.chat.Reset(r.Context(), id); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "Failed to reset session", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *handlers) chatMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionId string `json:"sessionId"`
		Message   string `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sessionId and message are required"})
		return
	}

	rsp, err := h.chat.Respond(r.Context(), req.SessionId, req.Message)
	switch {
	case errors.Is(err, chat.ErrMissingInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sessionId and message are required"})
	case errors.Is(err, sessionstore.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
	case err != nil:
		h.writeError(w, r, http.StatusInternalServerError, "Failed to process message", err)
	default:
		writeJSON(w, http.StatusOK, rsp)
	}
}

func (h *handlers) ingestNews(w http.ResponseWriter, r *http.Request) {
	count, err := h.ingest.Ingest(r.Context(), h.feedURL, h.collection, h.maxArticles)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "News ingestion failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "News ingestion complete",
		"count":   count,
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{}

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := check(ctx); err != nil {
			services[name] = "unavailable"
		} else {
			services[name] = "connected"
		}
		cancel()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
	})
}

// writeError logs the detail server-side and keeps the client message
// generic unless dev mode is on.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	slog.ErrorContext(r.Context(), message, "path", r.URL.Path, "error", err)

	if h.devMode && err != nil {
		message = err.Error()
	}

	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func cors(origin string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(origin) > 0 {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
