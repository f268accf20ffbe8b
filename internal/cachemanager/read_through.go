package cachemanager

import (
	"context"
	"time"
)

// Loader fetches the value for a key on a cache miss.
type Loader[K ~string, V any] func(ctx context.Context, key K) (V, error)

// ReadThrough serves from cache and falls back to a Loader, caching
// successful loads. Errors are not cached.
type ReadThrough[K ~string, V any] struct {
	cache Cache[K, V]
	load  Loader[K, V]
	ttl   time.Duration
	skip  bool
}

// NewReadThrough wraps cache with load. When skip is true every call goes
// straight to load.
func NewReadThrough[K ~string, V any](cache Cache[K, V], load Loader[K, V], ttl time.Duration, skip bool) *ReadThrough[K, V] {
	return &ReadThrough[K, V]{cache: cache, load: load, ttl: ttl, skip: skip}
}

// Get returns the cached value or loads it.
func (r *ReadThrough[K, V]) Get(ctx context.Context, key K) (V, error) {
	if r.skip {
		return r.load(ctx, key)
	}
	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}

	value, err := r.load(ctx, key)
	if err != nil {
		return value, err
	}
	r.cache.Set(ctx, key, value, r.ttl)
	return value, nil
}

// Invalidate drops key so the next Get reloads it.
func (r *ReadThrough[K, V]) Invalidate(ctx context.Context, key K) {
	r.cache.Delete(ctx, key)
}
