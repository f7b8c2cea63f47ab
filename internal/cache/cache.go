package cache

import (
	"sync"
	"time"
)

// Cache is a concurrency-safe map with optional expiry. A ttl <= 0 keeps
// entries for the lifetime of the cache.
type Cache[V any] struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]entry[V]
}

type entry[V any] struct {
	val V
	exp time.Time
}

func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl: ttl,
		m:   make(map[string]entry[V]),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}

	if !e.exp.IsZero() && time.Now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return zero, false
	}

	return e.val, true
}

func (c *Cache[V]) Set(key string, val V) {
	e := entry[V]{val: val}
	if c.ttl > 0 {
		e.exp = time.Now().Add(c.ttl)
	}

	c.mu.Lock()
	c.m[key] = e
	c.mu.Unlock()
}

// SetIfAbsent stores val unless a live entry exists, and returns whichever
// value is cached afterwards.
func (c *Cache[V]) SetIfAbsent(key string, val V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.m[key]; ok && (e.exp.IsZero() || time.Now().Before(e.exp)) {
		return e.val
	}

	e := entry[V]{val: val}
	if c.ttl > 0 {
		e.exp = time.Now().Add(c.ttl)
	}
	c.m[key] = e
	return val
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.m = make(map[string]entry[V])
	c.mu.Unlock()
}
