// Package kv provides the small Redis-backed key-value abstraction
// shared by sessions (revoked-jti set), OAuth federation (state
// tokens), rate limiting, and the authorization cache's L2 tier.
package kv

import (
	"context"
	"time"
)

// Store is the minimal KV surface the kernel's services need. It is
// intentionally narrow so it can be backed by go-redis/v9 in
// production and miniredis in tests without either side needing the
// full Redis command surface.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only if absent, returning whether it was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	// Incr increments key by 1, creating it with the given ttl if
	// absent, and returns the post-increment value. Used by the
	// rate limiter's fixed-window counters.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
