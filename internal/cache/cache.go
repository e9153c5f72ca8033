// Package cache implements C6 CacheLayer: a TTL cache sitting in front of
// AggregationService's read paths (spec.md §4.9). Every cached value has a
// store-backed source of truth, so cache is always optional — an absent or
// failing cache degrades read latency, never correctness.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/splitledger/core/internal/metrics"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Cache is an in-process TTL store with single-flight collapsing on
// getOrCompute, mirroring the get/setex/del/delPrefix/getOrCompute surface
// spec.md §4.9 describes for balance and user-view lookups.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// New returns an empty Cache ready for use.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Get returns the cached value for key, or ok=false if absent or expired.
func (c *Cache) Get(key string) (value []byte, ok bool) {
	c.mu.RLock()
	e, exists := c.entries[key]
	c.mu.RUnlock()
	if !exists || time.Now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

// SetEx stores value under key with the given TTL.
func (c *Cache) SetEx(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expires: time.Now().Add(ttl)}
}

// Del removes a single key.
func (c *Cache) Del(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DelPrefix removes every key with the given prefix, used to invalidate
// every cached view touching a userId or scope after a mutating write
// (spec.md §4.9's cache invalidation on postExpense/settle).
func (c *Cache) DelPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Producer computes the authoritative value for a cache miss.
type Producer func(ctx context.Context) ([]byte, error)

// GetOrCompute returns the cached value for key if present and unexpired.
// On a miss, concurrent callers for the same key collapse into a single
// call to produce (golang.org/x/sync/singleflight), so a burst of readers
// hitting a cold key never stampedes the store underneath.
//
// fresh forces the store read even when a cached value exists, matching
// the fresh=true bypass spec.md §4.9 grants callers who need a
// read-your-writes view immediately after their own mutation.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fresh bool, produce Producer) ([]byte, error) {
	if !fresh {
		if v, ok := c.Get(key); ok {
			metrics.CacheHits.Inc()
			return v, nil
		}
	}
	metrics.CacheMisses.Inc()
	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		c.SetEx(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
