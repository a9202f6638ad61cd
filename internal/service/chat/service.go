package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/w-h-a/ragchat/embedder"
	"github.com/w-h-a/ragchat/generator"
	"github.com/w-h-a/ragchat/sessionstore"
	getsafe "github.com/w-h-a/ragchat/util/get_safe"
	"github.com/w-h-a/ragchat/vectorstore"
)

const (
	defaultTopK = 3

	systemInstruction = "You are a helpful news assistant. Use the following context to answer the question. If you don't know the answer, say you don't know."

	// returned in place of a reply when generation fails, so the caller
	// always gets a response
	fallbackResponse = "I'm sorry, I encountered an error processing your request. Please try again later."
)

// ErrMissingInput is returned when the session id or message is absent.
var ErrMissingInput = errors.New("sessionId and message are required")

type Service struct {
	sessions   sessionstore.SessionStore
	embedder   embedder.Embedder
	store      vectorstore.VectorStore
	generator  generator.Generator
	collection string
	topK       int
}

type Response struct {
	Response  string                 `json:"response"`
	SessionId string                 `json:"sessionId"`
	History   []sessionstore.Message `json:"history"`
}

func (s *Service) CreateSession(ctx context.Context) (string, error) {
	return s.sessions.CreateSession(ctx)
}

func (s *Service) History(ctx context.Context, sessionId string) ([]sessionstore.Message, error) {
	return s.sessions.GetHistory(ctx, sessionId)
}

func (s *Service) Reset(ctx context.Context, sessionId string) error {
	return s.sessions.ResetHistory(ctx, sessionId)
}

// Respond runs the retrieval-augmented pipeline for one message: load
// history, retrieve context, generate a reply, then persist both messages
// in a single append. Nothing is written when an earlier step fails hard.
func (s *Service) Respond(ctx context.Context, sessionId string, message string) (*Response, error) {
	if len(strings.TrimSpace(sessionId)) == 0 || len(strings.TrimSpace(message)) == 0 {
		return nil, ErrMissingInput
	}

	history, err := s.sessions.GetHistory(ctx, sessionId)
	if err != nil {
		return nil, err
	}

	context := s.retrieveContext(ctx, message)

	prompt := s.buildPrompt(context, history, message)

	reply, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		slog.ErrorContext(ctx, "generation failed, returning fallback", "session_id", sessionId, "error", err)
		reply = fallbackResponse
	}

	updated, err := s.sessions.AppendMessages(ctx, sessionId, []sessionstore.Message{
		{Role: sessionstore.RoleUser, Content: message},
		{Role: sessionstore.RoleAssistant, Content: reply},
	})
	if err != nil {
		return nil, err
	}

	return &Response{
		Response:  reply,
		SessionId: sessionId,
		History:   updated,
	}, nil
}

// retrieveContext embeds the message and searches the collection. Failures
// degrade to an empty context rather than aborting the request.
func (s *Service) retrieveContext(ctx context.Context, message string) string {
	vector, err := s.embedder.Embed(ctx, message)
	if err != nil {
		slog.WarnContext(ctx, "embedding failed, continuing without context", "error", err)
		return ""
	}

	results, err := s.store.Search(ctx, s.collection, vector, s.topK)
	if err != nil {
		slog.WarnContext(ctx, "vector search failed, continuing without context", "collection", s.collection, "error", err)
		return ""
	}

	parts := make([]string, 0, len(results))

	for _, result := range results {
		if text := getsafe.String(result.Payload, "text"); len(text) > 0 {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n\n")
}

func (s *Service) buildPrompt(context string, history []sessionstore.Message, message string) string {
	var sb strings.Builder

	sb.WriteString(systemInstruction)

	sb.WriteString("\n\nContext:\n")
	sb.WriteString(context)

	sb.WriteString("\n\nChat History:\n")
	for _, msg := range history {
		sb.WriteString(fmt.Sprintf("%s: %s\n", msg.Role, msg.Content))
	}

	sb.WriteString(fmt.Sprintf("\nUser: %s\nAssistant:", message))

	return sb.String()
}

func New(
	sessions sessionstore.SessionStore,
	embedder embedder.Embedder,
	store vectorstore.VectorStore,
	generator generator.Generator,
	collection string,
	topK int,
) *Service {
	if topK < 1 {
		topK = defaultTopK
	}

	return &Service{
		sessions:   sessions,
		embedder:   embedder,
		store:      store,
		generator:  generator,
		collection: collection,
		topK:       topK,
	}
}
