package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/w-h-a/ragchat/chunker"
	"github.com/w-h-a/ragchat/embedder"
	"github.com/w-h-a/ragchat/feed"
	"github.com/w-h-a/ragchat/vectorstore"
)

type Service struct {
	feed     feed.Reader
	embedder embedder.Embedder
	store    vectorstore.VectorStore
	window   int
}

// Ingest pulls documents from the feed, chunks and embeds them, and
// batch-upserts the results. A chunk whose embedding fails is skipped;
// feed or collection failures abort the run. Returns the number of chunks
// ingested.
func (s *Service) Ingest(ctx context.Context, feedURL string, collection string, maxArticles int) (int, error) {
	docs, err := s.feed.Fetch(ctx, feedURL, maxArticles)
	if err != nil {
		return 0, fmt.Errorf("fetch feed: %w", err)
	}

	var records []vectorstore.Record
	dimension := 0

	for i, doc := range docs {
		for j, chunk := range chunker.Split(doc.Body, s.window) {
			vector, err := s.embedder.Embed(ctx, chunk)
			if err != nil {
				slog.WarnContext(ctx, "skipping chunk", "document", i, "chunk", j, "error", err)
				continue
			}

			if dimension == 0 {
				dimension = len(vector)
			}

			records = append(records, vectorstore.Record{
				Id:     chunkId(i, j),
				Vector: vector,
				Payload: map[string]any{
					"title": doc.Title,
					"url":   doc.URL,
					"text":  chunk,
				},
			})
		}
	}

	if len(records) == 0 {
		return 0, nil
	}

	if err := s.ensureCollection(ctx, collection, dimension); err != nil {
		return 0, fmt.Errorf("collection setup: %w", err)
	}

	if err := s.store.Upsert(ctx, collection, records); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}

	return len(records), nil
}

// ensureCollection creates the collection, dropping and recreating it when
// the embedder's dimension no longer matches. The reset loses existing
// records.
func (s *Service) ensureCollection(ctx context.Context, name string, dimension int) error {
	err := s.store.CreateCollection(ctx, name, dimension, vectorstore.DistanceCosine)
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		return err
	}

	slog.WarnContext(ctx, "collection dimension changed, recreating", "collection", name, "dimension", dimension)

	if err := s.store.DeleteCollection(ctx, name); err != nil {
		return err
	}

	return s.store.CreateCollection(ctx, name, dimension, vectorstore.DistanceCosine)
}

// chunkId derives a stable id from the chunk's position so that
// re-ingesting the same feed overwrites rather than duplicates.
func chunkId(doc int, chunk int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%d-%d", doc, chunk)).String()
}

func New(
	reader feed.Reader,
	embedder embedder.Embedder,
	store vectorstore.VectorStore,
	window int,
) *Service {
	if window < 1 {
		window = chunker.DefaultWindowSize
	}

	return &Service{
		feed:     reader,
		embedder: embedder,
		store:    store,
		window:   window,
	}
}
