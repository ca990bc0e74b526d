package utils

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/reverence/config"
)

// Cache key prefixes. Writes invalidate by prefix.
const (
	CachePostsListPrefix = "cache:posts:list:"
	CacheTagsList        = "cache:tags:list"
	CacheProfilePrefix   = "cache:profile:"
)

// CacheUserPostsPrefix is the prefix of one author's post list pages.
func CacheUserPostsPrefix(userID uint) string {
	return "cache:user:" + uintStr(userID) + ":posts:"
}

// CacheProfileKey is the key of a user's public profile.
func CacheProfileKey(userID uint) string {
	return CacheProfilePrefix + uintStr(userID)
}

func cacheTTL() time.Duration {
	if ttl := config.Get().CacheTTLSeconds; ttl > 0 {
		return time.Duration(ttl) * time.Second
	}
	return time.Hour
}

func cacheEnabled() bool {
	return config.Get().CacheEnabled
}

// CacheGetBytes returns the cached bytes for key. Misses, errors and a disabled cache all report false.
func CacheGetBytes(ctx context.Context, key string) ([]byte, bool) {
	if !cacheEnabled() {
		return nil, false
	}
	rc := GetRedis()
	if rc == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := rc.Get(ctx, key).Bytes()
	if err != nil {
		L().Debug("cache miss", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return b, true
}

// CacheGetJSON decodes a cached JSON value into v.
func CacheGetJSON(ctx context.Context, key string, v interface{}) bool {
	b, ok := CacheGetBytes(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		L().Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// CacheSetBytes stores bytes with the configured TTL when ttl is zero.
func CacheSetBytes(ctx context.Context, key string, b []byte, ttl time.Duration) {
	if !cacheEnabled() {
		return
	}
	if ttl <= 0 {
		ttl = cacheTTL()
	}
	rc := GetRedis()
	if rc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Set(ctx, key, b, ttl).Err(); err != nil {
		L().Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// CacheSetJSON marshals v and stores the JSON bytes.
func CacheSetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	CacheSetBytes(ctx, key, b, ttl)
}

// CacheDelete removes exact keys.
func CacheDelete(ctx context.Context, keys ...string) {
	rc := GetRedis()
	if rc == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Del(ctx, keys...).Err(); err != nil {
		L().Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// InvalidateByPrefix deletes keys starting with prefix using SCAN, never KEYS.
func InvalidateByPrefix(ctx context.Context, prefix string) {
	rc := GetRedis()
	if rc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var cursor uint64
	for round := 0; round < 10; round++ {
		keys, next, err := rc.Scan(ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			L().Warn("cache invalidation failed", zap.String("prefix", prefix), zap.Error(err))
			return
		}
		if len(keys) > 0 {
			pipe := rc.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			_, _ = pipe.Exec(ctx)
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

func uintStr(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
