package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/w-h-a/ragchat/vectorstore"
)

type qdrantStore struct {
	options vectorstore.Options
	client  *http.Client

	mtx  sync.Mutex
	dims map[string]int
}

func (s *qdrantStore) CreateCollection(ctx context.Context, name string, dimension int, distance string) error {
	existing, err := s.dimension(ctx, name)
	if err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return err
	}

	if err == nil {
		if existing != dimension {
			return fmt.Errorf("collection %s has dimension %d, want %d: %w", name, existing, dimension, vectorstore.ErrDimensionMismatch)
		}
		return nil
	}

	if len(distance) == 0 {
		distance = vectorstore.DistanceCosine
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": distance,
		},
	}

	var rsp qdrantEnvelope[json.RawMessage]

	path := fmt.Sprintf("/collections/%s", url.PathEscape(name))

	if err := s.do(ctx, http.MethodPut, path, req, &rsp); err != nil {
		return err
	}

	if !strings.EqualFold(rsp.Status.State, "ok") && len(rsp.Status.Error) > 0 {
		return errors.New(rsp.Status.Error)
	}

	s.cacheDimension(name, dimension)

	return nil
}

func (s *qdrantStore) DeleteCollection(ctx context.Context, name string) error {
	path := fmt.Sprintf("/collections/%s", url.PathEscape(name))

	if err := s.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		var herr *httpError
		if errors.As(err, &herr) && herr.code == http.StatusNotFound {
			return nil
		}
		return err
	}

	s.mtx.Lock()
	delete(s.dims, name)
	s.mtx.Unlock()

	return nil
}

func (s *qdrantStore) Upsert(ctx context.Context, collection string, records []vectorstore.Record) error {
	dimension, err := s.dimension(ctx, collection)
	if err != nil {
		return err
	}

	points := make([]map[string]any, 0, len(records))

	for _, record := range records {
		if len(record.Vector) != dimension {
			return fmt.Errorf("record %s has dimension %d, collection %s wants %d: %w", record.Id, len(record.Vector), collection, dimension, vectorstore.ErrDimensionMismatch)
		}

		points = append(points, map[string]any{
			"id":      record.Id,
			"vector":  record.Vector,
			"payload": record.Payload,
		})
	}

	req := map[string]any{
		"points": points,
	}

	var rsp qdrantEnvelope[json.RawMessage]

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(collection))

	if err := s.do(ctx, http.MethodPut, path, req, &rsp); err != nil {
		return s.mapNotFound(err)
	}

	if !strings.EqualFold(rsp.Status.State, "ok") && len(rsp.Status.Error) > 0 {
		return errors.New(rsp.Status.Error)
	}

	return nil
}

func (s *qdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]vectorstore.ScoredRecord, error) {
	if limit < 1 {
		return nil, nil
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}

	var rsp qdrantEnvelope[[]qdrantPointResult]

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(collection))

	if err := s.do(ctx, http.MethodPost, path, req, &rsp); err != nil {
		return nil, s.mapNotFound(err)
	}

	results := make([]vectorstore.ScoredRecord, 0, len(rsp.Result))

	for _, point := range rsp.Result {
		results = append(results, vectorstore.ScoredRecord{
			Record: vectorstore.Record{
				Id:      point.Id.String(),
				Vector:  point.Vector,
				Payload: point.Payload,
			},
			Score: float32(point.Score),
		})
	}

	return results, nil
}

// dimension looks up a collection's configured vector size, caching hits.
func (s *qdrantStore) dimension(ctx context.Context, collection string) (int, error) {
	s.mtx.Lock()
	if dim, ok := s.dims[collection]; ok {
		s.mtx.Unlock()
		return dim, nil
	}
	s.mtx.Unlock()

	var rsp qdrantEnvelope[qdrantCollectionInfo]

	path := fmt.Sprintf("/collections/%s", url.PathEscape(collection))

	if err := s.do(ctx, http.MethodGet, path, nil, &rsp); err != nil {
		return 0, s.mapNotFound(err)
	}

	dim := rsp.Result.Config.Params.Vectors.Size
	if dim == 0 {
		return 0, fmt.Errorf("collection %s reports no vector size", collection)
	}

	s.cacheDimension(collection, dim)

	return dim, nil
}

func (s *qdrantStore) cacheDimension(collection string, dimension int) {
	s.mtx.Lock()
	s.dims[collection] = dimension
	s.mtx.Unlock()
}

func (s *qdrantStore) mapNotFound(err error) error {
	var herr *httpError
	if errors.As(err, &herr) && herr.code == http.StatusNotFound {
		return vectorstore.ErrCollectionNotFound
	}
	return err
}

// Ping verifies connectivity by listing collections.
func (s *qdrantStore) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, "/collections", nil, nil)
}

type httpError struct {
	code int
	body string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("qdrant http %d: %s", e.code, e.body)
}

func (s *qdrantStore) do(ctx context.Context, method string, path string, req any, rsp any) error {
	u := s.options.Location + path

	var buf io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")

	if len(s.options.ApiKey) > 0 {
		request.Header.Set("api-key", s.options.ApiKey)
		request.Header.Set("Authorization", "Bearer "+s.options.ApiKey)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode >= 400 {
		return &httpError{code: response.StatusCode, body: string(payload)}
	}

	if rsp != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, rsp); err != nil {
			return err
		}
	}

	return nil
}

func NewStore(opts ...vectorstore.Option) vectorstore.VectorStore {
	options := vectorstore.NewOptions(opts...)

	if len(options.Location) == 0 {
		panic("missing location for qdrant store")
	}

	return &qdrantStore{
		options: options,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		dims: map[string]int{},
	}
}
