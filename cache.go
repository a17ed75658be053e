package opsclient

import (
	"hash/fnv"
	"sync"
	"time"
)

// CacheEntry is a stored successful response.
type CacheEntry struct {
	Response *Response
	StoredAt time.Time
	TTL      time.Duration
}

// expired reports whether the entry may no longer be served at now.
func (e *CacheEntry) expired(now time.Time) bool {
	return now.Sub(e.StoredAt) >= e.TTL
}

// Cache stores responses of cache-eligible GET requests. Implementations
// never return an expired entry.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	Clear()
	Len() int
}

// Sweeper is implemented by caches that can drop expired entries in bulk.
type Sweeper interface {
	Sweep() int
}

const defaultCacheShards = 16

type InMemoryCache struct {
	shards    []*cacheShard
	numShards int
	now       func() time.Time
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

func NewInMemoryCache() *InMemoryCache {
	return newInMemoryCache(time.Now)
}

func newInMemoryCache(now func() time.Time) *InMemoryCache {
	shards := make([]*cacheShard, defaultCacheShards)
	for i := range shards {
		shards[i] = &cacheShard{
			store: make(map[string]*CacheEntry),
		}
	}
	return &InMemoryCache{
		shards:    shards,
		numShards: defaultCacheShards,
		now:       now,
	}
}

func (c *InMemoryCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(c.numShards)]
}

// Get returns a live entry. An entry found past its TTL is deleted before
// the miss is reported.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool) {
	shard := c.getShard(key)
	shard.mu.RLock()
	entry, exists := shard.store[key]
	shard.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if !entry.expired(c.now()) {
		return entry, true
	}

	shard.mu.Lock()
	if current, ok := shard.store[key]; ok && current.expired(c.now()) {
		delete(shard.store, key)
	}
	shard.mu.Unlock()
	return nil, false
}

func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry.StoredAt = c.now()
	entry.TTL = ttl
	shard.store[key] = entry
}

func (c *InMemoryCache) Delete(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.store, key)
}

func (c *InMemoryCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
}

func (c *InMemoryCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.store)
		shard.mu.RUnlock()
	}
	return n
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *InMemoryCache) Sweep() int {
	now := c.now()
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.store {
			if entry.expired(now) {
				delete(shard.store, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
