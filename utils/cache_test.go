package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/reverence/config"
)

func testConfig(cacheEnabled bool) config.AppConfig {
	return config.AppConfig{
		JWTSecret:       "test-secret",
		TokenTTLHours:   1,
		CacheEnabled:    cacheEnabled,
		CacheTTLSeconds: 60,
	}
}

// useMiniredis points the shared client at a fresh in-process redis for one test.
func useMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	SetRedis(client)
	t.Cleanup(func() {
		_ = client.Close()
		SetRedis(nil)
	})
	return mr
}

func TestCacheJSONRoundTrip(t *testing.T) {
	config.Set(testConfig(true))
	mr := useMiniredis(t)
	ctx := context.Background()

	type page struct {
		IDs []uint `json:"ids"`
	}
	var got page
	assert.False(t, CacheGetJSON(ctx, CachePostsListPrefix+"1", &got))

	CacheSetJSON(ctx, CachePostsListPrefix+"1", page{IDs: []uint{3, 2, 1}}, 0)
	require.True(t, CacheGetJSON(ctx, CachePostsListPrefix+"1", &got))
	assert.Equal(t, []uint{3, 2, 1}, got.IDs)
	assert.Equal(t, 60*time.Second, mr.TTL(CachePostsListPrefix+"1"))

	CacheSetBytes(ctx, CacheTagsList, []byte("not json"), time.Minute)
	assert.False(t, CacheGetJSON(ctx, CacheTagsList, &got))
}

func TestCacheDisabled(t *testing.T) {
	config.Set(testConfig(false))
	mr := useMiniredis(t)
	ctx := context.Background()

	CacheSetBytes(ctx, CacheTagsList, []byte("[]"), 0)
	assert.False(t, mr.Exists(CacheTagsList))
	_, ok := CacheGetBytes(ctx, CacheTagsList)
	assert.False(t, ok)
}

func TestCacheWithoutRedis(t *testing.T) {
	config.Set(testConfig(true))
	SetRedis(nil)
	ctx := context.Background()

	CacheSetJSON(ctx, CacheProfileKey(1), map[string]int{"a": 1}, 0)
	_, ok := CacheGetBytes(ctx, CacheProfileKey(1))
	assert.False(t, ok)
	InvalidateByPrefix(ctx, "cache:")
}

func TestInvalidateByPrefix(t *testing.T) {
	config.Set(testConfig(true))
	mr := useMiniredis(t)
	ctx := context.Background()

	for _, key := range []string{
		CachePostsListPrefix + "1:20",
		CachePostsListPrefix + "2:20",
		CacheUserPostsPrefix(7) + "1:20",
		CacheProfileKey(7),
	} {
		require.NoError(t, mr.Set(key, "x"))
	}

	InvalidateByPrefix(ctx, CachePostsListPrefix)
	assert.False(t, mr.Exists(CachePostsListPrefix+"1:20"))
	assert.False(t, mr.Exists(CachePostsListPrefix+"2:20"))
	assert.True(t, mr.Exists(CacheUserPostsPrefix(7)+"1:20"))
	assert.True(t, mr.Exists(CacheProfileKey(7)))

	assert.Equal(t, "cache:user:7:posts:", CacheUserPostsPrefix(7))
}

func TestCacheDelete_ExactKeyOnly(t *testing.T) {
	config.Set(testConfig(true))
	mr := useMiniredis(t)
	ctx := context.Background()

	for _, id := range []uint{1, 10, 11} {
		require.NoError(t, mr.Set(CacheProfileKey(id), "x"))
	}
	CacheDelete(ctx, CacheProfileKey(1))
	assert.False(t, mr.Exists(CacheProfileKey(1)))
	assert.True(t, mr.Exists(CacheProfileKey(10)))
	assert.True(t, mr.Exists(CacheProfileKey(11)))

	CacheDelete(ctx)
	SetRedis(nil)
	CacheDelete(ctx, CacheProfileKey(10))
}
