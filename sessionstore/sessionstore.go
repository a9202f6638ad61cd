package sessionstore

import (
	"context"
	"errors"
)

// ErrSessionNotFound covers both a missing session and one whose stored
// history can no longer be decoded.
var ErrSessionNotFound = errors.New("session not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type SessionStore interface {
	// CreateSession persists a fresh session with an empty history and
	// returns its id.
	CreateSession(ctx context.Context) (string, error)
	GetHistory(ctx context.Context, sessionId string) ([]Message, error)
	// AppendMessages adds to the history and slides the expiry, returning
	// the updated history.
	AppendMessages(ctx context.Context, sessionId string, messages []Message) ([]Message, error)
	// ResetHistory replaces the history with an empty one, creating the
	// session if it does not exist.
	ResetHistory(ctx context.Context, sessionId string) error
}
