// Package ratelimit implements a fixed-window request limiter backed by
// Redis, keyed per client.
package ratelimit

import (
	"context"
	"time"
)

// Info describes the limiter's decision for one Allow call, enough to
// populate X-RateLimit-* response headers.
type Info struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, Info, error)
}
