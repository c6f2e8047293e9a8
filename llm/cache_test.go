package llm

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testResponse(id string) *ChatResponse {
	return &ChatResponse{
		ID:      id,
		Model:   "stackspot-test-model",
		Choices: []ChatChoice{{Message: Message{Role: RoleAssistant, Content: "olá"}}},
	}
}

func TestCompletionCache_LocalOnly(t *testing.T) {
	cache := NewCompletionCache(nil, &CacheConfig{
		LocalMaxSize: 10,
		LocalTTL:     time.Minute,
		EnableLocal:  true,
	}, zap.NewNop())

	ctx := context.Background()
	req := &ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Content: "oi"}}}
	key := cache.GenerateKey(req)

	_, err := cache.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, key, &CacheEntry{Response: testResponse("r1")}))

	entry, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "r1", entry.Response.ID)
}

func TestCompletionCache_RedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cache := NewCompletionCache(rdb, &CacheConfig{
		RedisTTL:    time.Hour,
		EnableRedis: true,
	}, zap.NewNop())

	ctx := context.Background()
	req := &ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Content: "oi"}}}
	key := cache.GenerateKey(req)

	require.NoError(t, cache.Set(ctx, key, &CacheEntry{Response: testResponse("r2")}))

	entry, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "r2", entry.Response.ID)

	// TTL 到期后未命中
	mr.FastForward(2 * time.Hour)
	_, err = cache.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCompletionCache_KeyDependsOnModelAndMessages(t *testing.T) {
	cache := NewCompletionCache(nil, DefaultCacheConfig(), zap.NewNop())

	a := cache.GenerateKey(&ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Content: "oi"}}})
	b := cache.GenerateKey(&ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Content: "tchau"}}})
	c := cache.GenerateKey(&ChatRequest{Model: "other", Messages: []Message{{Role: RoleUser, Content: "oi"}}})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCompletionCache_IsCacheable(t *testing.T) {
	cache := NewCompletionCache(nil, DefaultCacheConfig(), zap.NewNop())

	assert.True(t, cache.IsCacheable(&ChatRequest{}))
	assert.False(t, cache.IsCacheable(&ChatRequest{Temperature: 0.7}))
}

func TestLRUCache_EvictsOldest(t *testing.T) {
	lru := newLRUCache(2, time.Minute)

	lru.set("a", &CacheEntry{Response: testResponse("a")})
	lru.set("b", &CacheEntry{Response: testResponse("b")})
	lru.set("c", &CacheEntry{Response: testResponse("c")})

	_, ok := lru.get("a")
	assert.False(t, ok, "oldest entry evicted at capacity")

	_, ok = lru.get("c")
	assert.True(t, ok)
}
