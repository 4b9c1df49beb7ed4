package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryCacheManager_SetAndGet(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, int]("test", DefaultExpiration, DefaultCleanupInterval)

	_, found := cache.Get(ctx, "missing")
	require.False(t, found)

	cache.Set(ctx, "answer", 42, time.Minute)
	got, found := cache.Get(ctx, "answer")
	require.True(t, found)
	require.Equal(t, 42, got)
}

func TestInMemoryCacheManager_Expiration(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, string]("test", DefaultExpiration, DefaultCleanupInterval)

	cache.Set(ctx, "fleeting", "value", 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	_, found := cache.Get(ctx, "fleeting")
	require.False(t, found)
}

func TestInMemoryCacheManager_GetWithRefreshExtendsTTL(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, string]("test", DefaultExpiration, DefaultCleanupInterval)

	cache.Set(ctx, "key", "value", 60*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	_, found := cache.GetWithRefresh(ctx, "key", time.Minute)
	require.True(t, found)

	time.Sleep(40 * time.Millisecond)
	_, found = cache.Get(ctx, "key")
	require.True(t, found, "refresh should have extended the TTL")
}

func TestInMemoryCacheManager_DeleteAndFlush(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, int]("test", DefaultExpiration, DefaultCleanupInterval)

	cache.Set(ctx, "a", 1, time.Minute)
	cache.Set(ctx, "b", 2, time.Minute)

	require.NoError(t, cache.Delete(ctx, "a"))
	_, found := cache.Get(ctx, "a")
	require.False(t, found)

	require.NoError(t, cache.Flush(ctx))
	_, found = cache.Get(ctx, "b")
	require.False(t, found)
}
