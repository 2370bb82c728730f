// Package memory provides a bounded in-process LRU response cache.
package memory

import (
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/freedive-ai/coach/pkg/models"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 1000

type entry struct {
	value    []byte
	storedAt time.Time
}

// Cache is an LRU cache whose entries expire after a fixed TTL.
type Cache struct {
	lru       *lru.Cache[string, entry]
	ttl       time.Duration
	now       func() time.Time
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a Cache holding at most maxEntries values for ttl each.
func New(maxEntries int, ttl time.Duration) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	l, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cache{lru: l, ttl: ttl, now: time.Now}, nil
}

// Get returns the value for key. Entries at or past their TTL are deleted
// and reported as a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.lru.Remove(key)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *Cache) Set(key string, value []byte) error {
	if c.lru.Add(key, entry{value: value, storedAt: c.now()}) {
		c.evictions.Add(1)
	}
	return nil
}

// Stats returns cache performance counters.
func (c *Cache) Stats() (models.CacheStats, error) {
	return models.CacheStats{
		Entries:   int64(c.lru.Len()),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}, nil
}

// Clear removes entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(expiredOnly bool) error {
	if !expiredOnly {
		c.lru.Purge()
		return nil
	}
	now := c.now()
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && now.Sub(e.storedAt) >= c.ttl {
			c.lru.Remove(k)
		}
	}
	return nil
}

// Close is a no-op.
func (c *Cache) Close() error { return nil }
