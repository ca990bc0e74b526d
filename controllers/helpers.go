package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/reverence/config"
	"github.com/cppla/reverence/middleware"
	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

// fail translates a service error into the response envelope.
func fail(ctx *gin.Context, err error) {
	var appErr *services.AppError
	switch {
	case errors.As(err, &appErr):
		switch appErr.Code {
		case services.CodeNotFound:
			utils.Error(ctx, http.StatusNotFound, 40400, appErr.Message)
		case services.CodeConflict:
			utils.Error(ctx, http.StatusConflict, 40900, appErr.Message)
		case services.CodeValidation:
			utils.Error(ctx, http.StatusBadRequest, 40000, appErr.Message)
		case services.CodeForbidden:
			utils.Error(ctx, http.StatusForbidden, 40300, appErr.Message)
		case services.CodeTransient:
			_ = ctx.Error(err)
			utils.Error(ctx, http.StatusServiceUnavailable, 50300, "store busy, try again")
		default:
			internal(ctx, err)
		}
	case errors.Is(err, services.ErrInvalidCredentials):
		utils.Error(ctx, http.StatusUnauthorized, 40100, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		_ = ctx.Error(err)
		utils.Error(ctx, http.StatusServiceUnavailable, 50301, "store timeout")
	default:
		internal(ctx, err)
	}
}

func internal(ctx *gin.Context, err error) {
	_ = ctx.Error(err)
	utils.L().Error("request failed",
		zap.String("path", ctx.FullPath()),
		zap.String(utils.RequestIDKey, ctx.GetString(utils.RequestIDKey)),
		zap.Error(err))
	utils.Error(ctx, http.StatusInternalServerError, 50000, "internal error")
}

func badRequest(ctx *gin.Context, msg string) {
	utils.Error(ctx, http.StatusBadRequest, 40001, msg)
}

func retryPolicy() services.RetryPolicy {
	return services.RetryPolicyFromConfig(config.Get())
}

func parsePagination(ctx *gin.Context) services.Page {
	page, _ := strconv.Atoi(ctx.Query("page"))
	size, _ := strconv.Atoi(ctx.Query("page_size"))
	return services.NewPage(page, size)
}

func parseLimit(ctx *gin.Context) int {
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	return limit
}

// parseID reads a positive numeric path parameter, answering 400 when it is not one.
func parseID(ctx *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(ctx, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func getUserID(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, v > 0
	case int:
		return uint(v), v > 0
	case int64:
		return uint(v), v > 0
	default:
		return 0, false
	}
}

// requireUserID is getUserID for routes behind AuthRequired.
func requireUserID(ctx *gin.Context) (uint, bool) {
	id, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
	}
	return id, ok
}

func isAdmin(ctx *gin.Context) bool {
	return ctx.GetBool(middleware.ContextIsAdminKey)
}
