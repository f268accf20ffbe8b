package cachemanager

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/cockpit/internal/log"
)

const (
	DefaultExpiration      = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

// InMemory is a Cache backed by go-cache.
type InMemory[K ~string, V any] struct {
	useCase string
	cache   *gocache.Cache
}

// NewInMemory creates an in-memory cache. useCase only labels log lines.
func NewInMemory[K ~string, V any](useCase string, defaultExpiration, cleanupInterval time.Duration) *InMemory[K, V] {
	return &InMemory[K, V]{
		useCase: useCase,
		cache:   gocache.New(defaultExpiration, cleanupInterval),
	}
}

// Get returns the value stored under key.
func (c *InMemory[K, V]) Get(_ context.Context, key K) (V, bool) {
	var zero V

	value, found := c.cache.Get(string(key))
	if !found {
		return zero, false
	}

	v, ok := value.(V)
	if !ok {
		log.Error(log.CatCache, "wrong type stored in cache", "cache", c.useCase, "key", key)
		return zero, false
	}
	return v, true
}

// GetWithRefresh returns the value under key and extends its ttl.
func (c *InMemory[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	value, found := c.Get(ctx, key)
	if found {
		c.Set(ctx, key, value, ttl)
	}
	return value, found
}

// Set stores value under key. A zero ttl uses the cache default.
func (c *InMemory[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	c.cache.Set(string(key), value, ttl)
}

// Delete removes keys.
func (c *InMemory[K, V]) Delete(_ context.Context, keys ...K) {
	for _, key := range keys {
		c.cache.Delete(string(key))
	}
}

// Len returns the number of items, including expired ones not yet cleaned up.
func (c *InMemory[K, V]) Len() int {
	return c.cache.ItemCount()
}

// Flush removes everything.
func (c *InMemory[K, V]) Flush(_ context.Context) {
	c.cache.Flush()
}
