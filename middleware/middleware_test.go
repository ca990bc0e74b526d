package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/reverence/config"
	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setConfig() {
	config.Set(config.AppConfig{
		JWTSecret:          "test-secret",
		TokenTTLHours:      1,
		RateLimitPerMinute: 60,
		AdminUsernames:     []string{"Root"},
	})
	utils.SetRedis(nil)
}

func identityRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/", append(mw, func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"user_id":  ctx.GetUint(ContextUserIDKey),
			"username": ctx.GetString(ContextUsernameKey),
			"is_admin": ctx.GetBool(ContextIsAdminKey),
		})
	})...)
	return r
}

func get(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	setConfig()
	r := identityRouter(AuthRequired())

	token, claims, err := utils.GenerateToken(7, "root", 0)
	require.NoError(t, err)

	w := get(r, "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":7,"username":"root","is_admin":true}`, w.Body.String())

	for _, header := range []string{"", "Token abc", "Bearer ", "Bearer nope"} {
		assert.Equal(t, http.StatusUnauthorized, get(r, header).Code, "header %q", header)
	}

	utils.BlacklistToken(context.Background(), claims.ID, claims.ExpiresAt.Time)
	w = get(r, "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "40104")
}

func TestOptionalAuthAndAdmin(t *testing.T) {
	setConfig()
	r := identityRouter(OptionalAuth())

	w := get(r, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":0,"username":"","is_admin":false}`, w.Body.String())

	w = get(r, "Bearer broken")
	assert.Equal(t, http.StatusOK, w.Code)

	token, _, err := utils.GenerateToken(3, "bob", 0)
	require.NoError(t, err)
	w = get(r, "Bearer "+token)
	assert.JSONEq(t, `{"user_id":3,"username":"bob","is_admin":false}`, w.Body.String())

	admin := identityRouter(AuthRequired(), AdminRequired())
	assert.Equal(t, http.StatusForbidden, get(admin, "Bearer "+token).Code)
}

func TestCurrentUser_UsesStoredUsername(t *testing.T) {
	setConfig()
	stored := map[uint]string{7: "alice", 8: "root"}
	lookup := func(_ context.Context, id uint) (string, error) {
		if id == 9 {
			return "", errors.New("connection refused")
		}
		name, ok := stored[id]
		if !ok {
			return "", services.NewNotFoundError("user", id)
		}
		return name, nil
	}
	r := identityRouter(AuthRequired(), CurrentUser(lookup))
	admin := identityRouter(AuthRequired(), CurrentUser(lookup), AdminRequired())

	// issued as root, renamed to alice since
	stale, _, err := utils.GenerateToken(7, "root", 0)
	require.NoError(t, err)
	w := get(r, "Bearer "+stale)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":7,"username":"alice","is_admin":false}`, w.Body.String())
	assert.Equal(t, http.StatusForbidden, get(admin, "Bearer "+stale).Code)

	// renamed into an admin name
	promoted, _, err := utils.GenerateToken(8, "carol", 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(admin, "Bearer "+promoted).Code)

	gone, _, err := utils.GenerateToken(99, "root", 0)
	require.NoError(t, err)
	w = get(admin, "Bearer "+gone)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "40106")

	broken, _, err := utils.GenerateToken(9, "root", 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "Bearer "+broken).Code)
}

func TestRateLimit(t *testing.T) {
	setConfig()
	r := gin.New()
	r.GET("/", rateLimit(newIPLimiters(4)), func(ctx *gin.Context) { ctx.Status(http.StatusNoContent) })

	codes := map[int]int{}
	for i := 0; i < 4; i++ {
		codes[get(r, "").Code]++
	}
	// burst is half the per-minute budget
	assert.Equal(t, 2, codes[http.StatusNoContent])
	assert.Equal(t, 2, codes[http.StatusTooManyRequests])
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.GET("/", RequestID(), func(ctx *gin.Context) {
		ctx.String(http.StatusOK, ctx.GetString(utils.RequestIDKey))
	})

	w := get(r, "")
	assert.Len(t, w.Body.String(), 36)
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Body.String())
}

func TestStoreTimeout(t *testing.T) {
	r := gin.New()
	r.GET("/", StoreTimeout(time.Minute), func(ctx *gin.Context) {
		deadline, ok := ctx.Request.Context().Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
		ctx.Status(http.StatusNoContent)
	})
	assert.Equal(t, http.StatusNoContent, get(r, "").Code)

	r = gin.New()
	r.GET("/", StoreTimeout(0), func(ctx *gin.Context) {
		_, ok := ctx.Request.Context().Deadline()
		assert.False(t, ok)
		ctx.Status(http.StatusNoContent)
	})
	assert.Equal(t, http.StatusNoContent, get(r, "").Code)
}
