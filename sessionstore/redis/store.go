package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/w-h-a/ragchat/sessionstore"
)

const (
	defaultPrefix = "chat:"
	defaultTTL    = 24 * time.Hour

	// retries for the optimistic append transaction before giving up
	maxRetries = 3
)

type redisStore struct {
	options sessionstore.Options
	client  *redis.Client
}

func (s *redisStore) CreateSession(ctx context.Context) (string, error) {
	id := uuid.New().String()

	if err := s.client.Set(ctx, s.key(id), "[]", s.options.TTL).Err(); err != nil {
		return "", err
	}

	return id, nil
}

func (s *redisStore) GetHistory(ctx context.Context, sessionId string) ([]sessionstore.Message, error) {
	raw, err := s.client.Get(ctx, s.key(sessionId)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sessionstore.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	return s.decode(ctx, sessionId, raw)
}

func (s *redisStore) AppendMessages(ctx context.Context, sessionId string, messages []sessionstore.Message) ([]sessionstore.Message, error) {
	key := s.key(sessionId)

	var updated []sessionstore.Message

	// WATCH the key so a concurrent writer aborts the transaction instead
	// of losing messages to a read-modify-write race.
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return sessionstore.ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		history, err := s.decode(ctx, sessionId, raw)
		if err != nil {
			return err
		}

		updated = append(history, messages...)

		data, err := json.Marshal(updated)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.options.TTL)
			return nil
		})
		return err
	}

	for range maxRetries {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("append to session %s: too many concurrent writes", sessionId)
}

func (s *redisStore) ResetHistory(ctx context.Context, sessionId string) error {
	return s.client.Set(ctx, s.key(sessionId), "[]", s.options.TTL).Err()
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) key(sessionId string) string {
	return s.options.Prefix + sessionId
}

// decode treats a corrupt blob as a missing session.
func (s *redisStore) decode(ctx context.Context, sessionId string, raw string) ([]sessionstore.Message, error) {
	var history []sessionstore.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		slog.WarnContext(ctx, "corrupt session history", "session_id", sessionId, "error", err)
		return nil, sessionstore.ErrSessionNotFound
	}
	if history == nil {
		history = []sessionstore.Message{}
	}
	return history, nil
}

func NewStore(opts ...sessionstore.Option) sessionstore.SessionStore {
	options := sessionstore.NewOptions(opts...)

	if len(options.Location) == 0 {
		panic("missing location for redis session store")
	}

	if len(options.Prefix) == 0 {
		options.Prefix = defaultPrefix
	}

	if options.TTL == 0 {
		options.TTL = defaultTTL
	}

	opt, err := redis.ParseURL(options.Location)
	if err != nil {
		panic(err)
	}

	return &redisStore{
		options: options,
		client:  redis.NewClient(opt),
	}
}
