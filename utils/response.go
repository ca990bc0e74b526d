package utils

import "github.com/gin-gonic/gin"

// JSONResponse defines the uniform structure for API responses.
type JSONResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, 200, 0, "success", data)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, code int, message string) {
	Respond(ctx, status, code, message, nil)
}

// ServeCached writes a previously cached success envelope for key and reports whether it did.
func ServeCached(ctx *gin.Context, key string) bool {
	b, ok := CacheGetBytes(ctx.Request.Context(), key)
	if !ok {
		return false
	}
	ctx.Data(200, "application/json; charset=utf-8", b)
	return true
}

// SuccessCached writes a success response and stores the same envelope under key.
func SuccessCached(ctx *gin.Context, key string, data interface{}) {
	CacheSetJSON(ctx.Request.Context(), key, JSONResponse{Code: 0, Message: "success", Data: data}, 0)
	Success(ctx, data)
}
