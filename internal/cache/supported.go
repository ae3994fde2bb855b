package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// SupportedTTL is the default cache lifetime for the /supported response.
// GetSupported reflects static registration-time configuration, not
// per-request state, so callers can safely serve a cached copy between
// recomputations.
const SupportedTTL = 10 * time.Minute

const supportedCacheKey = "x402:supported"

// GetSupportedCached returns a previously cached /supported payload if
// present and unexpired, decoding it into v.
func (c *Client) GetSupportedCached(ctx context.Context, v interface{}) (bool, error) {
	raw, err := c.Get(ctx, supportedCacheKey)
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, err
	}
	return true, nil
}

// SetSupportedCached stores v (JSON-encoded) with SupportedTTL.
func (c *Client) SetSupportedCached(ctx context.Context, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, supportedCacheKey, string(raw), SupportedTTL)
}
