// Package ratelimit implements the fixed-window counters used by
// magic-link issuance (per-IP) and API-key usage (per-tier).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultgate/auth/kv"
)

// Limiter enforces "at most N events per window" per key.
type Limiter struct {
	store  kv.Store
	prefix string
}

// New creates a Limiter over the given KV store. prefix namespaces its
// keys so multiple limiters (magic-link, API-key tiers) can share one
// store without colliding.
func New(store kv.Store, prefix string) *Limiter {
	return &Limiter{store: store, prefix: prefix}
}

// Allow increments the counter for key within window and reports
// whether the caller is still under limit. It is called before the
// guarded operation proceeds, so a request that pushes the count over
// the limit is itself rejected (count > limit, not >=).
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := l.store.Incr(ctx, fmt.Sprintf("%s:%s", l.prefix, key), window)
	if err != nil {
		return false, fmt.Errorf("incr: %w", err)
	}
	return count <= int64(limit), nil
}
