package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/w-h-a/ragchat/vectorstore"
	"go.nhat.io/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
)

var DRIVER string

func init() {
	driver, err := otelsql.Register(
		"postgres",
		otelsql.TraceQueryWithoutArgs(),
		otelsql.TraceRowsClose(),
		otelsql.TraceRowsAffected(),
		otelsql.WithSystem(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		detail := "failed to register pg vector store with otel"
		slog.ErrorContext(context.Background(), detail, "error", err)
		panic(detail)
	}

	DRIVER = driver
}

// collection names become table names, so they are restricted to
// identifier-safe characters.
var validCollection = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type postgresStore struct {
	options vectorstore.Options
	conn    *sql.DB
}

func (p *postgresStore) CreateCollection(ctx context.Context, name string, dimension int, distance string) error {
	if err := checkName(name); err != nil {
		return err
	}

	if len(distance) > 0 && distance != vectorstore.DistanceCosine {
		return fmt.Errorf("postgres store supports %s distance only, got %s", vectorstore.DistanceCosine, distance)
	}

	existing, err := p.dimension(ctx, name)
	if err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return err
	}

	if err == nil {
		if existing != dimension {
			return fmt.Errorf("collection %s has dimension %d, want %d: %w", name, existing, dimension, vectorstore.ErrDimensionMismatch)
		}
		return nil
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, pq.QuoteIdentifier(name), dimension)

	if _, err := p.conn.ExecContext(ctx, query); err != nil {
		return err
	}

	return nil
}

func (p *postgresStore) DeleteCollection(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}

	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", pq.QuoteIdentifier(name))

	_, err := p.conn.ExecContext(ctx, query)
	return err
}

func (p *postgresStore) Upsert(ctx context.Context, collection string, records []vectorstore.Record) error {
	if err := checkName(collection); err != nil {
		return err
	}

	dimension, err := p.dimension(ctx, collection)
	if err != nil {
		return err
	}

	for _, record := range records {
		if len(record.Vector) != dimension {
			return fmt.Errorf("record %s has dimension %d, collection %s wants %d: %w", record.Id, len(record.Vector), collection, dimension, vectorstore.ErrDimensionMismatch)
		}
	}

	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload
	`, pq.QuoteIdentifier(collection))

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return mapTableError(err)
	}
	defer stmt.Close()

	for _, record := range records {
		payload, err := json.Marshal(record.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, record.Id, pgvector.NewVector(record.Vector), payload); err != nil {
			return mapTableError(err)
		}
	}

	return tx.Commit()
}

func (p *postgresStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]vectorstore.ScoredRecord, error) {
	if limit < 1 {
		return nil, nil
	}

	if err := checkName(collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			id,
			payload,
			1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pq.QuoteIdentifier(collection))

	rows, err := p.conn.QueryContext(ctx, query, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, mapTableError(err)
	}
	defer rows.Close()

	var results []vectorstore.ScoredRecord

	for rows.Next() {
		var (
			id      string
			payload []byte
			score   float64
		)
		if err := rows.Scan(&id, &payload, &score); err != nil {
			return nil, err
		}

		record := vectorstore.ScoredRecord{
			Record: vectorstore.Record{Id: id},
			Score:  float32(score),
		}

		if err := json.Unmarshal(payload, &record.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload for %s: %w", id, err)
		}

		results = append(results, record)
	}

	return results, rows.Err()
}

// dimension reads the vector column's declared size from the catalog.
func (p *postgresStore) dimension(ctx context.Context, collection string) (int, error) {
	query := `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = to_regclass($1) AND attname = 'embedding' AND NOT attisdropped
	`

	var dim int
	if err := p.conn.QueryRowContext(ctx, query, collection).Scan(&dim); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, vectorstore.ErrCollectionNotFound
		}
		return 0, err
	}

	return dim, nil
}

func (p *postgresStore) Ping(ctx context.Context) error {
	return p.conn.PingContext(ctx)
}

func checkName(name string) error {
	if !validCollection.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

func mapTableError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
		return vectorstore.ErrCollectionNotFound
	}
	return err
}

func NewStore(opts ...vectorstore.Option) vectorstore.VectorStore {
	options := vectorstore.NewOptions(opts...)

	if len(options.Location) == 0 {
		panic("missing location for postgres store")
	}

	conn, err := sql.Open(DRIVER, options.Location)
	if err != nil {
		panic(err)
	}

	return &postgresStore{
		options: options,
		conn:    conn,
	}
}
