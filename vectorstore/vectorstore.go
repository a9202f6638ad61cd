package vectorstore

import (
	"context"
	"errors"
)

const (
	DistanceCosine = "Cosine"
	DistanceEuclid = "Euclid"
	DistanceDot    = "Dot"
)

var (
	// ErrCollectionNotFound is returned by Upsert and Search when the named
	// collection does not exist. Delete treats absence as a no-op.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is returned when a vector's length disagrees with
	// the collection's configured dimension, or by CreateCollection when the
	// collection already exists with a different dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

type VectorStore interface {
	// CreateCollection is idempotent: an existing collection with the same
	// dimension is not an error.
	CreateCollection(ctx context.Context, name string, dimension int, distance string) error
	// DeleteCollection is idempotent: absence is not an error.
	DeleteCollection(ctx context.Context, name string) error
	// Upsert inserts or overwrites records by id. No record is written when
	// any vector fails the dimension check.
	Upsert(ctx context.Context, collection string, records []Record) error
	// Search returns up to limit records ordered by descending similarity.
	// An empty collection yields an empty result, not an error.
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredRecord, error)
}
