package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter counts calls per window-aligned bucket. Every instance that
// shares the Redis database shares the budget.
type RateLimiter struct {
	client RedisClient
	now    func() time.Time
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow reports whether one more call fits into key's budget of limit calls
// per window. The bucket key carries the window start, so a missed EXPIRE
// only leaks a stale counter and never blocks the next window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	bucket := bucketKey(key, r.now(), window)
	count, err := r.client.Incr(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		// one extra window keeps the counter alive across clock skew between instances
		if err := r.client.Expire(ctx, bucket, 2*window); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}

func bucketKey(key string, now time.Time, window time.Duration) string {
	return fmt.Sprintf("%s:%d", key, now.Truncate(window).Unix())
}

func ProviderCallKey(provider, op string) string {
	return fmt.Sprintf("rate_limit:provider:%s:%s", provider, op)
}
