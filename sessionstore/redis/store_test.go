package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w-h-a/ragchat/sessionstore"
)

func newTestStore(t *testing.T) (sessionstore.SessionStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	store := NewStore(
		sessionstore.WithLocation("redis://" + mr.Addr()),
	)

	return store, mr
}

func TestSessionLifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	history, err := store.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []sessionstore.Message{}, history)

	msg := sessionstore.Message{Role: sessionstore.RoleUser, Content: "hello"}

	updated, err := store.AppendMessages(ctx, id, []sessionstore.Message{msg})
	require.NoError(t, err)
	assert.Equal(t, []sessionstore.Message{msg}, updated)

	history, err = store.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []sessionstore.Message{msg}, history)

	require.NoError(t, store.ResetHistory(ctx, id))

	history, err = store.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []sessionstore.Message{}, history)
}

func TestGetHistoryUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.GetHistory(context.Background(), "nope")
	assert.ErrorIs(t, err, sessionstore.ErrSessionNotFound)
}

func TestAppendMessagesUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.AppendMessages(context.Background(), "nope", []sessionstore.Message{
		{Role: sessionstore.RoleUser, Content: "hi"},
	})
	assert.ErrorIs(t, err, sessionstore.ErrSessionNotFound)
}

func TestCorruptHistoryReadsAsNotFound(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx)
	require.NoError(t, err)

	require.NoError(t, mr.Set("chat:"+id, "{not json"))

	_, err = store.GetHistory(ctx, id)
	assert.ErrorIs(t, err, sessionstore.ErrSessionNotFound)
}

func TestResetHistoryCreatesMissingSession(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ResetHistory(ctx, "fresh"))

	history, err := store.GetHistory(ctx, "fresh")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAppendSlidesExpiry(t *testing.T) {
	mr := miniredis.RunT(t)

	store := NewStore(
		sessionstore.WithLocation("redis://"+mr.Addr()),
		sessionstore.WithTTL(time.Hour),
	)

	ctx := context.Background()

	id, err := store.CreateSession(ctx)
	require.NoError(t, err)

	mr.FastForward(30 * time.Minute)
	assert.Equal(t, 30*time.Minute, mr.TTL("chat:"+id))

	_, err = store.AppendMessages(ctx, id, []sessionstore.Message{
		{Role: sessionstore.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)

	assert.Equal(t, time.Hour, mr.TTL("chat:"+id))
}

func TestHistoryExpires(t *testing.T) {
	mr := miniredis.RunT(t)

	store := NewStore(
		sessionstore.WithLocation("redis://"+mr.Addr()),
		sessionstore.WithTTL(time.Minute),
	)

	ctx := context.Background()

	id, err := store.CreateSession(ctx)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = store.GetHistory(ctx, id)
	assert.ErrorIs(t, err, sessionstore.ErrSessionNotFound)
}
