package rescache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvuslabs/corvus/internal/llm/transport"
)

// fakeRedis is an in-memory RedisClient for testing.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string

	getErr error
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	val, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			deleted++
		}
	}
	return redis.NewIntResult(deleted, nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func testCache(t *testing.T, client RedisClient, cfg Config) *Cache {
	t.Helper()
	cfg.Enabled = true
	return New(context.Background(), cfg, client, nil)
}

func cacheableRequest() *transport.Request {
	return &transport.Request{
		Operation:      transport.OpAnalysis,
		Provider:       "openai",
		Model:          "gpt-4",
		Prompt:         "analyze",
		IdempotencyKey: "run-1/doc-report.md",
	}
}

func TestCacheMissThenHit(t *testing.T) {
	cache := testCache(t, newFakeRedis(), Config{})
	calls := 0
	h := cache.Middleware()(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		calls++
		return &transport.Response{Content: `{"score": 4}`}, nil
	}))

	resp, err := h.Handle(context.Background(), cacheableRequest())
	require.NoError(t, err)
	assert.False(t, resp.FromCache)
	assert.Equal(t, 1, calls)

	resp, err = h.Handle(context.Background(), cacheableRequest())
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
	assert.Equal(t, `{"score": 4}`, resp.Content)
	assert.Equal(t, 1, calls, "second call must be served from cache")

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestCacheSkipsRequestsWithoutIdempotencyKey(t *testing.T) {
	cache := testCache(t, newFakeRedis(), Config{})
	calls := 0
	h := cache.Middleware()(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		calls++
		return &transport.Response{Content: "ok"}, nil
	}))

	req := cacheableRequest()
	req.IdempotencyKey = ""
	for i := 0; i < 3; i++ {
		_, err := h.Handle(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	client := newFakeRedis()
	cache := testCache(t, client, Config{})
	h := cache.Middleware()(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return nil, assert.AnError
	}))

	_, err := h.Handle(context.Background(), cacheableRequest())
	require.Error(t, err)
	assert.Empty(t, client.data)
}

func TestCacheEvictsCorruptEntry(t *testing.T) {
	client := newFakeRedis()
	cache := testCache(t, client, Config{})

	key := "llm:analysis:run-1/doc-report.md"
	client.data[key] = "not json at all"

	calls := 0
	h := cache.Middleware()(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		calls++
		return &transport.Response{Content: "fresh"}, nil
	}))

	resp, err := h.Handle(context.Background(), cacheableRequest())
	require.NoError(t, err)
	assert.Equal(t, "fresh", resp.Content)
	assert.Equal(t, 1, calls)

	// The corrupt entry was replaced with a valid one.
	var e entry
	require.NoError(t, json.Unmarshal([]byte(client.data[key]), &e))
	assert.Equal(t, "fresh", e.Content)
}

func TestCacheRejectsStaleEntry(t *testing.T) {
	client := newFakeRedis()
	cache := testCache(t, client, Config{MaxAge: time.Minute})

	key := "llm:analysis:run-1/doc-report.md"
	old, err := json.Marshal(entry{
		Key:        key,
		Operation:  transport.OpAnalysis,
		Content:    "ancient",
		StoredAtMs: time.Now().Add(-time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	client.data[key] = string(old)

	h := cache.Middleware()(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return &transport.Response{Content: "fresh"}, nil
	}))

	resp, err := h.Handle(context.Background(), cacheableRequest())
	require.NoError(t, err)
	assert.Equal(t, "fresh", resp.Content)
	assert.False(t, resp.FromCache)
}

func TestCacheDegradesOnRedisErrors(t *testing.T) {
	client := newFakeRedis()
	client.getErr = assert.AnError
	client.setErr = assert.AnError
	cache := testCache(t, client, Config{})

	h := cache.Middleware()(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return &transport.Response{Content: "ok"}, nil
	}))

	resp, err := h.Handle(context.Background(), cacheableRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Greater(t, cache.Stats().Errors, int64(0))
}

func TestDisabledCachePassesThrough(t *testing.T) {
	cache := New(context.Background(), Config{Enabled: false}, newFakeRedis(), nil)
	assert.False(t, cache.Enabled())

	calls := 0
	h := cache.Middleware()(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		calls++
		return &transport.Response{Content: "ok"}, nil
	}))
	for i := 0; i < 2; i++ {
		_, err := h.Handle(context.Background(), cacheableRequest())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestBuildKeyValidation(t *testing.T) {
	req := cacheableRequest()
	key, err := buildKey(req)
	require.NoError(t, err)
	assert.Equal(t, "llm:analysis:run-1/doc-report.md", key)

	short := cacheableRequest()
	short.IdempotencyKey = "abc"
	_, err = buildKey(short)
	require.Error(t, err)

	long := cacheableRequest()
	for len(long.IdempotencyKey) <= maxIdempotencyKeyLength {
		long.IdempotencyKey += long.IdempotencyKey
	}
	_, err = buildKey(long)
	require.Error(t, err)
}
