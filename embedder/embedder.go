package embedder

import (
	"context"
	"errors"
)

// ErrEmptyInput is returned when the text to embed is empty or
// whitespace-only. It is checked before any network call.
var ErrEmptyInput = errors.New("text to embed is empty")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
