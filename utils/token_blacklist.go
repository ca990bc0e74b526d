package utils

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const blacklistPrefix = "jwt:blacklist:"

var (
	blacklist   = map[string]time.Time{}
	blacklistMu sync.Mutex
)

// BlacklistToken revokes the token with the given id until it would have expired anyway.
// Redis holds the entry when available, process memory otherwise.
func BlacklistToken(ctx context.Context, tokenID string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if tokenID == "" || ttl <= 0 {
		return
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err := rc.Set(ctx, blacklistPrefix+tokenID, "1", ttl).Err()
		if err == nil {
			return
		}
		L().Warn("token blacklist write failed, keeping it in memory", zap.Error(err))
	}

	blacklistMu.Lock()
	defer blacklistMu.Unlock()
	now := time.Now()
	for id, exp := range blacklist {
		if now.After(exp) {
			delete(blacklist, id)
		}
	}
	blacklist[tokenID] = expiresAt
}

// IsTokenBlacklisted reports whether the token id was revoked. Redis errors fail open.
func IsTokenBlacklisted(ctx context.Context, tokenID string) bool {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		n, err := rc.Exists(ctx, blacklistPrefix+tokenID).Result()
		if err == nil && n > 0 {
			return true
		}
	}

	blacklistMu.Lock()
	defer blacklistMu.Unlock()
	exp, ok := blacklist[tokenID]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(blacklist, tokenID)
		return false
	}
	return true
}
