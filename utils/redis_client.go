package utils

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cppla/reverence/config"
)

var (
	redisClient *redis.Client
	redisMu     sync.Mutex
	redisReady  bool
)

// GetRedis returns the shared Redis client built from config, or nil when Redis did not answer at first use.
// Callers treat nil as "no cache, in-memory fallbacks".
func GetRedis() *redis.Client {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisReady {
		return redisClient
	}
	redisReady = true

	cfg := config.Get()
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort)),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		L().Warn("redis unavailable, caching disabled", zap.String("addr", client.Options().Addr), zap.Error(err))
		_ = client.Close()
		return nil
	}
	redisClient = client
	return redisClient
}

// SetRedis installs client as the shared client. Passing nil forces the in-memory fallbacks.
func SetRedis(client *redis.Client) {
	redisMu.Lock()
	redisClient = client
	redisReady = true
	redisMu.Unlock()
}

// CloseRedis closes the shared client if one was opened.
func CloseRedis() error {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisClient == nil {
		return nil
	}
	err := redisClient.Close()
	redisClient = nil
	return err
}
