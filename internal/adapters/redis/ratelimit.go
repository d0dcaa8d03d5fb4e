package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter. The window starts at the first hit.
type RateLimiter struct {
	client    redis.UniversalClient
	namespace string
}

func NewRateLimiter(client redis.UniversalClient, namespace string) *RateLimiter {
	return &RateLimiter{client: client, namespace: namespace}
}

// Allow counts one hit against key. A counter found without an expiry, for
// instance after a failed EXPIRE, gets the window set on the next hit so it
// cannot lock the key out forever.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := l.namespace + ":ratelimit:" + key

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	if _, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		ttl = pipe.TTL(ctx, k)
		return nil
	}); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}

	// -1 means the key exists with no expiry
	if ttl.Val() < 0 {
		if err := l.client.Expire(ctx, k, window).Err(); err != nil {
			return false, fmt.Errorf("rate limit window %s: %w", key, err)
		}
	}
	return incr.Val() <= int64(limit), nil
}
