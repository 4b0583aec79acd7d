package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a Redis fixed-window counter. Every key shares the same hit
// budget and period.
type Window struct {
	redis  redis.UniversalClient
	limit  int
	period time.Duration
}

// NewWindow creates a [Window] allowing limit hits per period for each key.
func NewWindow(redisClient redis.UniversalClient, limit int, period time.Duration) *Window {
	return &Window{
		redis:  redisClient,
		limit:  limit,
		period: period,
	}
}

// Hit records one hit on key and returns the updated count. It returns
// [ErrRateLimited] once the window holds more than the configured limit.
func (w *Window) Hit(ctx context.Context, key string) (int64, error) {
	count, err := w.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := w.redis.Expire(ctx, key, w.period).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(w.limit) {
		return count, ErrRateLimited
	}
	return count, nil
}

// Count returns the hits recorded for key in the current window.
// Missing keys count as zero.
func (w *Window) Count(ctx context.Context, key string) (int64, error) {
	count, err := w.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

// Reset drops the counters for keys.
func (w *Window) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := w.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Limit returns the per-window hit budget.
func (w *Window) Limit() int {
	return w.limit
}

// Period returns the window length.
func (w *Window) Period() time.Duration {
	return w.period
}
