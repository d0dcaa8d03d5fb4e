package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore caches create-order responses by client idempotency key.
type IdempotencyStore struct {
	client    redis.UniversalClient
	namespace string
	log       *slog.Logger
}

func NewIdempotencyStore(client redis.UniversalClient, namespace string, log *slog.Logger) *IdempotencyStore {
	return &IdempotencyStore{
		client:    client,
		namespace: namespace,
		log:       log,
	}
}

func (s *IdempotencyStore) key(k string) string {
	return s.namespace + ":idempotency:" + k
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency get: %w", err)
	}
	return v, true, nil
}

// Set keeps the first stored result, later writers are ignored.
func (s *IdempotencyStore) Set(ctx context.Context, key string, result string, ttl time.Duration) error {
	stored, err := s.client.SetNX(ctx, s.key(key), result, ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency set: %w", err)
	}
	if !stored {
		s.log.DebugContext(ctx, "idempotency key already cached", "idempotency_key", key)
	}
	return nil
}
