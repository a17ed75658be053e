package opsclient

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// BoundedCache is a size-bounded cache that evicts the least recently used
// entry once full. Per-entry TTLs behave as in InMemoryCache.
type BoundedCache struct {
	lru *lru.Cache[string, *CacheEntry]
	now func() time.Time
}

// NewBoundedCache creates a cache holding at most maxEntries responses.
func NewBoundedCache(maxEntries int) (*BoundedCache, error) {
	return newBoundedCache(maxEntries, time.Now)
}

func newBoundedCache(maxEntries int, now func() time.Time) (*BoundedCache, error) {
	c, err := lru.New[string, *CacheEntry](maxEntries)
	if err != nil {
		return nil, validationError("cache max entries: %v", err)
	}
	return &BoundedCache{lru: c, now: now}, nil
}

func (c *BoundedCache) Get(key string) (*CacheEntry, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if entry.expired(c.now()) {
		c.lru.Remove(key)
		return nil, false
	}
	return entry, true
}

func (c *BoundedCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	entry.StoredAt = c.now()
	entry.TTL = ttl
	c.lru.Add(key, entry)
}

func (c *BoundedCache) Delete(key string) {
	c.lru.Remove(key)
}

func (c *BoundedCache) Clear() {
	c.lru.Purge()
}

func (c *BoundedCache) Len() int {
	return c.lru.Len()
}

// Sweep removes expired entries without touching recency.
func (c *BoundedCache) Sweep() int {
	now := c.now()
	removed := 0
	for _, key := range c.lru.Keys() {
		if entry, ok := c.lru.Peek(key); ok && entry.expired(now) {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}
