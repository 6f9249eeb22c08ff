package querycache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Cache holds query results keyed by resource path (e.g. "/api/rides/user/42").
// Writers only ever mark entries stale; fresh data comes from refetching.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v     any
	ts    time.Time
	stale bool
}

// New creates a cache whose entries also expire after ttl. A zero ttl keeps
// entries until invalidated.
func New(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

// Get returns the cached value and true if present and fresh.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok || e.stale {
		return nil, false
	}
	if c.ttl > 0 && time.Since(e.ts) > c.ttl {
		return nil, false
	}
	return e.v, true
}

func (c *Cache) Set(key string, v any) {
	c.mu.Lock()
	c.store[key] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// Invalidate marks key and every key below it ("/api/rides" covers
// "/api/rides/user/42") stale.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(key, "/") + "/"
	for k, e := range c.store {
		if k == key || strings.HasPrefix(k, prefix) {
			e.stale = true
			c.store[k] = e
		}
	}
}

// Stale reports whether a key is present but needs a refetch.
func (c *Cache) Stale(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.store[key]
	return ok && e.stale
}

// Fetch returns the cached value for key or calls fn and caches its result.
func Fetch[T any](ctx context.Context, c *Cache, key string, fn func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	v, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}
