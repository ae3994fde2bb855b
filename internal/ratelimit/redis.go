package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/x402go/facilitator/internal/cache"
)

// RedisLimiter implements Limiter as a fixed-window counter: each key gets
// a counter that expires after window, incremented on every Allow call.
type RedisLimiter struct {
	cache    *cache.Client
	requests int
	window   time.Duration
	prefix   string
}

func NewRedisLimiter(c *cache.Client, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{cache: c, requests: requests, window: window, prefix: "x402:ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, Info, error) {
	redisKey := l.prefix + key

	count, err := l.cache.Incr(ctx, redisKey)
	if err != nil {
		return false, Info{}, fmt.Errorf("ratelimit: incr: %w", err)
	}

	if count == 1 {
		if err := l.cache.Expire(ctx, redisKey, l.window); err != nil {
			return false, Info{}, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}

	ttl, err := l.cache.TTL(ctx, redisKey)
	if err != nil {
		return false, Info{}, fmt.Errorf("ratelimit: ttl: %w", err)
	}
	if ttl < 0 {
		ttl = l.window
	}

	info := Info{
		Limit:     l.requests,
		Remaining: max(0, l.requests-int(count)),
		Reset:     time.Now().Add(ttl),
	}

	return count <= int64(l.requests), info, nil
}
