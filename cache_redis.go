package opsclient

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCacheConfig configures a RedisCache.
type RedisCacheConfig struct {
	Addr     string `yaml:"addr" env:"OPSCLIENT_REDIS_ADDR"`
	Password string `yaml:"password" env:"OPSCLIENT_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"OPSCLIENT_REDIS_DB"`
	// Prefix namespaces keys so Clear only flushes this client's entries.
	Prefix string `yaml:"prefix" env:"OPSCLIENT_REDIS_PREFIX"`
	// OpTimeout bounds each Redis round trip.
	OpTimeout time.Duration `yaml:"opTimeout" env:"OPSCLIENT_REDIS_OP_TIMEOUT"`
}

// RedisCache shares cached responses between processes. Redis failures are
// logged and treated as misses; they never fail a request.
type RedisCache struct {
	client    redis.UniversalClient
	prefix    string
	opTimeout time.Duration
	logger    Logger
	now       func() time.Time
}

type redisEntry struct {
	Response *Response `json:"response"`
	Status   int       `json:"status"`
	StoredAt time.Time `json:"storedAt"`
	TTL      int64     `json:"ttl"`
}

// NewRedisCache connects lazily to the configured server.
func NewRedisCache(cfg RedisCacheConfig, logger Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisCacheWithClient(client, cfg.Prefix, cfg.OpTimeout, logger)
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client redis.UniversalClient, prefix string, opTimeout time.Duration, logger Logger) *RedisCache {
	if prefix == "" {
		prefix = "opsclient:cache:"
	}
	if opTimeout <= 0 {
		opTimeout = 500 * time.Millisecond
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &RedisCache{
		client:    client,
		prefix:    prefix,
		opTimeout: opTimeout,
		logger:    logger,
		now:       time.Now,
	}
}

func (c *RedisCache) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opTimeout)
}

func (c *RedisCache) Get(key string) (*CacheEntry, bool) {
	ctx, cancel := c.ctx()
	defer cancel()

	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Redis cache get failed", "key", key, "error", err)
		}
		return nil, false
	}

	var stored redisEntry
	if err := json.Unmarshal(raw, &stored); err != nil || stored.Response == nil {
		c.logger.Warn("Discarding undecodable cache entry", "key", key, "error", err)
		c.Delete(key)
		return nil, false
	}
	stored.Response.StatusCode = stored.Status
	entry := &CacheEntry{
		Response: stored.Response,
		StoredAt: stored.StoredAt,
		TTL:      time.Duration(stored.TTL),
	}
	if entry.expired(c.now()) {
		c.Delete(key)
		return nil, false
	}
	return entry, true
}

func (c *RedisCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	entry.StoredAt = c.now()
	entry.TTL = ttl

	raw, err := json.Marshal(redisEntry{
		Response: entry.Response,
		Status:   entry.Response.StatusCode,
		StoredAt: entry.StoredAt,
		TTL:      int64(ttl),
	})
	if err != nil {
		c.logger.Warn("Redis cache encode failed", "key", key, "error", err)
		return
	}

	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		c.logger.Warn("Redis cache set failed", "key", key, "error", err)
	}
}

func (c *RedisCache) Delete(key string) {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.logger.Warn("Redis cache delete failed", "key", key, "error", err)
	}
}

// Clear deletes every key under the cache prefix.
func (c *RedisCache) Clear() {
	ctx, cancel := c.ctx()
	defer cancel()

	keys, err := c.keys(ctx)
	if err != nil {
		c.logger.Warn("Redis cache scan failed", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Redis cache clear failed", "error", err)
	}
}

func (c *RedisCache) Len() int {
	ctx, cancel := c.ctx()
	defer cancel()

	keys, err := c.keys(ctx)
	if err != nil {
		return 0
	}
	return len(keys)
}

func (c *RedisCache) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Ping checks connectivity for the cache health probe.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
