package feed

import "context"

// Document is one article pulled from an external feed.
type Document struct {
	Title string
	URL   string
	Body  string
}

type Reader interface {
	// Fetch returns up to limit documents from the feed at url.
	Fetch(ctx context.Context, url string, limit int) ([]Document, error)
}
