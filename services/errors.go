package services

import (
	"errors"
	"fmt"
)

// Error codes surfaced to callers.
const (
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeValidation = "VALIDATION_ERROR"
	CodeForbidden  = "FORBIDDEN"
	CodeTransient  = "TRANSIENT_STORE_ERROR"
)

// AppError is a classified failure of a core operation.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError reports a missing post, comment, user or tag.
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %v not found", resource, id),
	}
}

// NewValidationError rejects input before any store mutation.
func NewValidationError(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewConflictError reports a uniqueness clash.
func NewConflictError(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
	}
}

// NewForbiddenError reports an actor touching content they do not own.
func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

// NewTransientError wraps a store failure that survived every retry.
func NewTransientError(op string, err error) *AppError {
	return &AppError{
		Code:    CodeTransient,
		Message: op + " failed after retries",
		Err:     err,
	}
}

// ErrorCode returns the AppError code in err's chain, or "" for unclassified errors.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound reports whether err is a NotFound AppError.
func IsNotFound(err error) bool { return ErrorCode(err) == CodeNotFound }

// IsValidation reports whether err is a ValidationError AppError.
func IsValidation(err error) bool { return ErrorCode(err) == CodeValidation }

// IsConflict reports whether err is a Conflict AppError.
func IsConflict(err error) bool { return ErrorCode(err) == CodeConflict }

// IsTransient reports whether err is a TransientStoreError AppError.
func IsTransient(err error) bool { return ErrorCode(err) == CodeTransient }
