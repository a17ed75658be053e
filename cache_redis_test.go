package opsclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// Nothing listens on port 1, so every Redis call fails fast.
func unreachableRedis(logger Logger) *RedisCache {
	return NewRedisCache(RedisCacheConfig{Addr: "127.0.0.1:1", OpTimeout: 200 * time.Millisecond}, logger)
}

func TestRedisCacheDegradesToMiss(t *testing.T) {
	logger := &recordingLogger{}
	cache := unreachableRedis(logger)
	defer cache.Close()

	cache.Set("k", &CacheEntry{Response: &Response{Success: true, StatusCode: 200}}, time.Minute)
	if _, ok := cache.Get("k"); ok {
		t.Error("an unreachable server can only miss")
	}
	cache.Delete("k")
	cache.Clear()
	if n := cache.Len(); n != 0 {
		t.Errorf("Len() = %d", n)
	}
	if err := cache.Ping(context.Background()); err == nil {
		t.Error("Ping should report the connection failure")
	}

	var warned bool
	for _, m := range logger.messages() {
		if m == "warn Redis cache set failed" {
			warned = true
		}
	}
	if !warned {
		t.Errorf("failures should be logged: %v", logger.messages())
	}
}

func TestRedisCacheDefaults(t *testing.T) {
	cache := NewRedisCacheWithClient(nil, "", 0, nil)
	if cache.prefix != "opsclient:cache:" || cache.opTimeout != 500*time.Millisecond || cache.logger == nil {
		t.Errorf("defaults = %q %v %v", cache.prefix, cache.opTimeout, cache.logger)
	}
}

func TestRedisCacheRequestStillSucceeds(t *testing.T) {
	data := &fakeData{rows: `[{"id":1}]`}
	cache := unreachableRedis(nil)
	client := New(WithDataBackend(data), WithCustomCache(cache, time.Minute))
	defer client.Close(context.Background())
	defer cache.Close()

	for i := 0; i < 2; i++ {
		resp, err := client.Get(context.Background(), "/rest/v1/orders", nil)
		if err != nil || resp.Cached {
			t.Fatalf("call %d: resp %+v err %v", i, resp, err)
		}
	}
	if len(data.queries) != 2 {
		t.Errorf("queries = %d, every call goes to the backend", len(data.queries))
	}
}

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	server := miniredis.RunT(t)
	clock := newFakeClock()
	cache := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: server.Addr()}), "test:", time.Second, nil)
	cache.now = clock.Now
	t.Cleanup(func() { cache.Close() })
	return cache, server, clock
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache, server, clock := newTestRedisCache(t)

	cache.Set("orders", &CacheEntry{Response: &Response{
		Success:    true,
		Data:       []byte(`[{"id":1}]`),
		StatusCode: 201,
		Pagination: &Pagination{Total: 4, Page: 1, PageSize: 1, HasMore: true},
	}}, time.Minute)

	if ttl := server.TTL("test:orders"); ttl != time.Minute {
		t.Errorf("server TTL = %v, want 1m", ttl)
	}

	entry, ok := cache.Get("orders")
	if !ok {
		t.Fatal("expected a hit")
	}
	resp := entry.Response
	if !resp.Success || string(resp.Data) != `[{"id":1}]` || resp.StatusCode != 201 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Pagination == nil || resp.Pagination.Total != 4 || !resp.Pagination.HasMore {
		t.Errorf("pagination = %+v", resp.Pagination)
	}
	if !entry.StoredAt.Equal(clock.Now()) || entry.TTL != time.Minute {
		t.Errorf("StoredAt %v TTL %v", entry.StoredAt, entry.TTL)
	}
}

func TestRedisCacheExpiry(t *testing.T) {
	cache, server, clock := newTestRedisCache(t)
	entry := func() *CacheEntry { return &CacheEntry{Response: &Response{Success: true}} }

	cache.Set("client-clock", entry(), time.Minute)
	clock.Advance(2 * time.Minute)
	if _, ok := cache.Get("client-clock"); ok {
		t.Error("an entry past its TTL must miss even if the server still holds it")
	}
	if server.Exists("test:client-clock") {
		t.Error("the expired entry should be deleted")
	}

	cache.Set("server-ttl", entry(), time.Minute)
	server.FastForward(2 * time.Minute)
	if _, ok := cache.Get("server-ttl"); ok {
		t.Error("an entry evicted by the server must miss")
	}
}

func TestRedisCacheClearKeepsOtherKeys(t *testing.T) {
	cache, server, _ := newTestRedisCache(t)
	if err := server.Set("other:keep", "x"); err != nil {
		t.Fatal(err)
	}

	cache.Set("a", &CacheEntry{Response: &Response{Success: true}}, time.Minute)
	cache.Set("b", &CacheEntry{Response: &Response{Success: true}}, time.Minute)
	if n := cache.Len(); n != 2 {
		t.Errorf("Len() = %d, want 2 (keys outside the prefix do not count)", n)
	}

	cache.Clear()
	if n := cache.Len(); n != 0 {
		t.Errorf("Len() after Clear = %d", n)
	}
	if !server.Exists("other:keep") {
		t.Error("Clear must only remove keys under the cache prefix")
	}
	cache.Clear()
}

func TestRedisCacheDiscardsUndecodableEntries(t *testing.T) {
	cache, server, _ := newTestRedisCache(t)
	if err := server.Set("test:bad", "not json"); err != nil {
		t.Fatal(err)
	}

	if _, ok := cache.Get("bad"); ok {
		t.Error("garbage must not be served")
	}
	if server.Exists("test:bad") {
		t.Error("undecodable entry should be deleted")
	}
}

func TestRedisCacheBacksClient(t *testing.T) {
	cache, _, _ := newTestRedisCache(t)
	data := &fakeData{rows: `[{"id":1}]`}
	client := New(WithDataBackend(data), WithCustomCache(cache, time.Minute))
	defer client.Close(context.Background())
	ctx := context.Background()

	if _, err := client.Get(ctx, "/rest/v1/orders", nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp, err := client.Get(ctx, "/rest/v1/orders", nil)
	if err != nil || !resp.Cached || string(resp.Data) != `[{"id":1}]` {
		t.Fatalf("second Get = %+v, %v", resp, err)
	}
	if len(data.queries) != 1 {
		t.Errorf("queries = %d, want 1", len(data.queries))
	}

	if check := client.HealthCheck(ctx).Checks[CheckCache]; check.Status != HealthStatusHealthy {
		t.Errorf("cache health = %+v", check)
	}
}
