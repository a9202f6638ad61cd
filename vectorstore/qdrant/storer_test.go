package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w-h-a/ragchat/vectorstore"
)

// fakeQdrant implements just enough of the qdrant REST surface for the store.
type fakeQdrant struct {
	mtx         sync.Mutex
	collections map[string]*fakeCollection
	upserts     int
}

type fakeCollection struct {
	dimension int
	points    map[string]fakePoint
}

type fakePoint struct {
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: map[string]*fakeCollection{}}
}

func (f *fakeQdrant) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mtx.Lock()
		defer f.mtx.Unlock()
		col, ok := f.collections[r.PathValue("name")]
		if !ok {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"status":"ok","result":{"config":{"params":{"vectors":{"size":%d,"distance":"Cosine"}}}}}`, col.dimension)
	})

	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mtx.Lock()
		defer f.mtx.Unlock()
		var req struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.collections[r.PathValue("name")] = &fakeCollection{
			dimension: req.Vectors.Size,
			points:    map[string]fakePoint{},
		}
		w.Write([]byte(`{"status":"ok","result":true}`))
	})

	mux.HandleFunc("DELETE /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mtx.Lock()
		defer f.mtx.Unlock()
		name := r.PathValue("name")
		if _, ok := f.collections[name]; !ok {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		delete(f.collections, name)
		w.Write([]byte(`{"status":"ok","result":true}`))
	})

	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		f.mtx.Lock()
		defer f.mtx.Unlock()
		col, ok := f.collections[r.PathValue("name")]
		if !ok {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		f.upserts++
		var req struct {
			Points []struct {
				Id      string         `json:"id"`
				Vector  []float32      `json:"vector"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		for _, p := range req.Points {
			col.points[p.Id] = fakePoint{Vector: p.Vector, Payload: p.Payload}
		}
		w.Write([]byte(`{"status":"ok","result":{}}`))
	})

	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		f.mtx.Lock()
		defer f.mtx.Unlock()
		col, ok := f.collections[r.PathValue("name")]
		if !ok {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		results := []map[string]any{}
		score := 0.99
		for id, p := range col.points {
			results = append(results, map[string]any{
				"id":      id,
				"score":   score,
				"payload": p.Payload,
			})
			score -= 0.1
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"result": results,
		})
	})

	return mux
}

func (f *fakeQdrant) count(name string) int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	col, ok := f.collections[name]
	if !ok {
		return 0
	}
	return len(col.points)
}

func newTestStore(t *testing.T) (vectorstore.VectorStore, *fakeQdrant) {
	t.Helper()
	fake := newFakeQdrant()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewStore(vectorstore.WithLocation(srv.URL)), fake
}

func TestCreateCollectionIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "news", 3, vectorstore.DistanceCosine))
	require.NoError(t, store.CreateCollection(ctx, "news", 3, vectorstore.DistanceCosine))
}

func TestCreateCollectionReportsDimensionChange(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "news", 3, vectorstore.DistanceCosine))

	err := store.CreateCollection(ctx, "news", 5, vectorstore.DistanceCosine)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestDeleteCollectionToleratesAbsence(t *testing.T) {
	store, _ := newTestStore(t)

	assert.NoError(t, store.DeleteCollection(context.Background(), "missing"))
}

func TestUpsertRejectsWrongDimensionWithoutWriting(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "news", 3, vectorstore.DistanceCosine))

	err := store.Upsert(ctx, "news", []vectorstore.Record{
		{Id: "a", Vector: []float32{1, 2, 3}},
		{Id: "b", Vector: []float32{1, 2}},
	})

	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
	assert.Equal(t, 0, fake.upserts)
	assert.Equal(t, 0, fake.count("news"))
}

func TestUpsertUnknownCollection(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Upsert(context.Background(), "missing", []vectorstore.Record{
		{Id: "a", Vector: []float32{1, 2, 3}},
	})

	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestUpsertAndSearch(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "news", 3, vectorstore.DistanceCosine))
	require.NoError(t, store.Upsert(ctx, "news", []vectorstore.Record{
		{Id: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"text": "Test article."}},
	}))
	assert.Equal(t, 1, fake.count("news"))

	results, err := store.Search(ctx, "news", []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Id)
	assert.Equal(t, "Test article.", results[0].Payload["text"])
	assert.InDelta(t, 0.99, results[0].Score, 0.001)
}

func TestUpsertOverwritesById(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "news", 2, vectorstore.DistanceCosine))

	records := []vectorstore.Record{{Id: "a", Vector: []float32{1, 0}}}
	require.NoError(t, store.Upsert(ctx, "news", records))
	require.NoError(t, store.Upsert(ctx, "news", records))

	assert.Equal(t, 1, fake.count("news"))
}

func TestSearchEmptyCollection(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "news", 3, vectorstore.DistanceCosine))

	results, err := store.Search(ctx, "news", []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchUnknownCollection(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Search(context.Background(), "missing", []float32{1}, 3)
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestNewStoreRequiresLocation(t *testing.T) {
	assert.Panics(t, func() {
		NewStore()
	})
}
