// Package cache provides a small thread-safe TTL cache with a bounded
// entry count, used as a read-through cache in front of blob downloads.
package cache

import (
	"sync"
	"time"
)

// Config contains configuration for cache creation.
type Config struct {
	// Enabled determines if caching is enabled. A disabled cache is a
	// valid no-op value: Get always misses and Set discards.
	Enabled bool `json:"enabled"`

	// MaxSize is the maximum number of entries. When full, the entry
	// closest to expiry is evicted to make room.
	MaxSize int `json:"max_size"`

	// TTL is the time-to-live for entries.
	TTL time.Duration `json:"ttl"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		MaxSize: 1000,
		TTL:     5 * time.Minute,
	}
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe TTL cache parameterized by value type.
type Cache[V any] struct {
	mu     sync.RWMutex
	cfg    Config
	items  map[string]entry[V]
	hits   uint64
	misses uint64
	now    func() time.Time
}

// New creates a cache from config.
func New[V any](cfg Config) *Cache[V] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Cache[V]{
		cfg:   cfg,
		items: make(map[string]entry[V]),
		now:   time.Now,
	}
}

// Get retrieves a value by key, treating expired entries as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if !c.cfg.Enabled {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok || c.now().After(e.expiresAt) {
		if ok {
			delete(c.items, key)
		}
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores a value with the configured TTL, evicting the entry closest
// to expiry when the cache is full.
func (c *Cache[V]) Set(key string, value V) {
	if !c.cfg.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; !ok && len(c.items) >= c.cfg.MaxSize {
		c.evictOldestLocked()
	}
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.cfg.TTL)}
}

// Delete removes a key from the cache.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len returns the current number of entries, including not-yet-reaped
// expired ones.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache[V]) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *Cache[V]) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.items {
		if first || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
			first = false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
