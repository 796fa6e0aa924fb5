package ports

import (
	"context"
	"time"
)

// CacheKey canonically identifies one cached action result (spec.md
// §4.H "Caching" — keyed by (action, input, principal-if-scoped)).
type CacheKey struct {
	Action          string
	InputDigest     string
	PrincipalDigest string
}

// ResultCache is the Coordinator's pluggable result cache for actions
// declaring a CachePolicy. A reference adapter provides an in-process
// LRU tier plus an optional distributed tier for PER_HUB/GLOBAL scope
// sharing across hub processes.
type ResultCache interface {
	Get(ctx context.Context, key CacheKey) ([]byte, bool)
	Set(ctx context.Context, key CacheKey, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}
