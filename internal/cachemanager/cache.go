// Package cachemanager provides small TTL caches keyed by string-like ids.
// The session manager keeps tombstones for removed sessions here, and the
// API fronts journal lookups with a read-through cache.
package cachemanager

import (
	"context"
	"time"
)

// Cache is a typed TTL cache.
type Cache[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K)
	Len() int
	Flush(ctx context.Context)
}
