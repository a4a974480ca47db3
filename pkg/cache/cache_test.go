package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	c := New[string](Config{Enabled: true, MaxSize: 10, TTL: time.Minute})

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", "v")
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestDisabledCacheIsNoOp(t *testing.T) {
	c := New[[]byte](Config{Enabled: false})

	c.Set("k", []byte("v"))
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestExpiry(t *testing.T) {
	c := New[string](Config{Enabled: true, MaxSize: 10, TTL: time.Minute})

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("k", "v")

	// Still fresh.
	_, ok := c.Get("k")
	assert.True(t, ok)

	// Past TTL the entry reads as a miss and is reaped.
	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestEvictionAtCapacity(t *testing.T) {
	c := New[int](Config{Enabled: true, MaxSize: 2, TTL: time.Minute})

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("a", 1)

	c.now = func() time.Time { return now.Add(time.Second) }
	c.Set("b", 2)

	// "a" expires first, so it is the eviction victim.
	c.now = func() time.Time { return now.Add(2 * time.Second) }
	c.Set("c", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestDelete(t *testing.T) {
	c := New[string](DefaultConfig())
	c.Set("k", "v")
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}
