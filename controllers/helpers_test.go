package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/reverence/middleware"
	"github.com/cppla/reverence/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestFail_MapsErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   int
	}{
		{services.NewNotFoundError("post", 1), http.StatusNotFound, 40400},
		{services.NewConflictError("taken"), http.StatusConflict, 40900},
		{services.NewValidationError("bio too long"), http.StatusBadRequest, 40000},
		{services.NewForbiddenError("not yours"), http.StatusForbidden, 40300},
		{services.NewTransientError("set_reaction", errors.New("deadlock")), http.StatusServiceUnavailable, 50300},
		{services.ErrInvalidCredentials, http.StatusUnauthorized, 40100},
		{fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusServiceUnavailable, 50301},
		{errors.New("disk on fire"), http.StatusInternalServerError, 50000},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		ctx, _ := gin.CreateTestContext(w)
		ctx.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		fail(ctx, tt.err)

		assert.Equal(t, tt.status, w.Code, "%v", tt.err)
		var body struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tt.code, body.Code, "%v", tt.err)
	}
}

func TestParseHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/?page=3&page_size=500&limit=7", nil)
	ctx.Params = gin.Params{{Key: "id", Value: "12"}, {Key: "bad", Value: "x"}}

	page := parsePagination(ctx)
	assert.Equal(t, 3, page.Number)
	assert.Equal(t, 100, page.Size)
	assert.Equal(t, 7, parseLimit(ctx))

	id, ok := parseID(ctx, "id")
	assert.True(t, ok)
	assert.Equal(t, uint(12), id)

	_, ok = parseID(ctx, "bad")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, ok = getUserID(ctx)
	assert.False(t, ok)
	ctx.Set(middleware.ContextUserIDKey, uint(5))
	uid, ok := getUserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, uint(5), uid)
	assert.False(t, isAdmin(ctx))
}
