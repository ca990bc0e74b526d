package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/reverence/config"
	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextIsAdminKey is true for users listed under admin.usernames.
	ContextIsAdminKey = "is_admin"
	// ContextClaimsKey holds the parsed *utils.Claims, used by logout to revoke the token.
	ContextClaimsKey = "claims"
)

// AuthRequired ensures the request is authenticated via JWT.
func AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString, code, msg := bearerToken(ctx)
		if code != 0 {
			utils.Error(ctx, http.StatusUnauthorized, code, msg)
			ctx.Abort()
			return
		}

		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			utils.Error(ctx, http.StatusUnauthorized, 40105, "invalid token")
			ctx.Abort()
			return
		}

		if utils.IsTokenBlacklisted(ctx.Request.Context(), claims.ID) {
			utils.Error(ctx, http.StatusUnauthorized, 40104, "token revoked")
			ctx.Abort()
			return
		}

		setIdentity(ctx, claims)
		ctx.Next()
	}
}

// OptionalAuth records the caller's identity when a valid token is present and never rejects.
func OptionalAuth() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString, code, _ := bearerToken(ctx)
		if code == 0 {
			claims, err := utils.ParseToken(tokenString)
			if err == nil && !utils.IsTokenBlacklisted(ctx.Request.Context(), claims.ID) {
				setIdentity(ctx, claims)
			}
		}
		ctx.Next()
	}
}

// UsernameLookup returns the stored username of a user id.
type UsernameLookup func(ctx context.Context, userID uint) (string, error)

// CurrentUser must run after AuthRequired. It replaces the username carried by the token with the stored
// one, so admin status follows renames and tokens of deleted accounts stop working.
func CurrentUser(lookup UsernameLookup) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		userID := ctx.GetUint(ContextUserIDKey)
		username, err := lookup(ctx.Request.Context(), userID)
		if err != nil {
			if services.IsNotFound(err) {
				utils.Error(ctx, http.StatusUnauthorized, 40106, "account no longer exists")
			} else {
				_ = ctx.Error(err)
				utils.L().Error("identity lookup failed", zap.Uint("user_id", userID), zap.Error(err))
				utils.Error(ctx, http.StatusServiceUnavailable, 50302, "identity lookup failed")
			}
			ctx.Abort()
			return
		}
		ctx.Set(ContextUsernameKey, username)
		ctx.Set(ContextIsAdminKey, IsAdmin(username))
		ctx.Next()
	}
}

// AdminRequired must run after AuthRequired and CurrentUser.
func AdminRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !ctx.GetBool(ContextIsAdminKey) {
			utils.Error(ctx, http.StatusForbidden, 40301, "admin only")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

func bearerToken(ctx *gin.Context) (string, int, string) {
	authHeader := ctx.GetHeader("Authorization")
	if authHeader == "" {
		return "", 40101, "authorization header missing"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", 40102, "invalid authorization header format"
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return "", 40103, "empty bearer token"
	}
	return tokenString, 0, ""
}

func setIdentity(ctx *gin.Context, claims *utils.Claims) {
	ctx.Set(ContextUserIDKey, claims.UserID)
	ctx.Set(ContextUsernameKey, claims.Username)
	ctx.Set(ContextIsAdminKey, IsAdmin(claims.Username))
	ctx.Set(ContextClaimsKey, claims)
}

// IsAdmin reports whether username is configured as an administrator.
func IsAdmin(username string) bool {
	for _, admin := range config.Get().AdminUsernames {
		if strings.EqualFold(admin, username) {
			return true
		}
	}
	return false
}
