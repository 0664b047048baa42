package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"roomrelay/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidRoom        ErrorCode = "INVALID_ROOM"
	ErrCodeRoomNotFound       ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeRoomFull           ErrorCode = "ROOM_FULL"
	ErrCodeRoomExists         ErrorCode = "ROOM_EXISTS"
	ErrCodeNotAuthorized      ErrorCode = "NOT_AUTHORIZED"
	ErrCodeTargetUnavailable  ErrorCode = "TARGET_UNAVAILABLE"
	ErrCodeNotInRoom          ErrorCode = "NOT_IN_ROOM"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// domainCodes maps domain sentinels to their wire code and HTTP status.
var domainCodes = []struct {
	err    error
	code   ErrorCode
	status int
}{
	{domain.ErrInvalidRoom, ErrCodeInvalidRoom, http.StatusBadRequest},
	{domain.ErrRoomNotFound, ErrCodeRoomNotFound, http.StatusNotFound},
	{domain.ErrRoomFull, ErrCodeRoomFull, http.StatusConflict},
	{domain.ErrRoomExists, ErrCodeRoomExists, http.StatusConflict},
	{domain.ErrNotAuthorized, ErrCodeNotAuthorized, http.StatusForbidden},
	{domain.ErrTargetUnavailable, ErrCodeTargetUnavailable, http.StatusNotFound},
	{domain.ErrNotInRoom, ErrCodeNotInRoom, http.StatusConflict},
	{domain.ErrInvalidSignal, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrEmptyMessage, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrMessageTooLong, ErrCodeInvalidInput, http.StatusBadRequest},
}

// FromDomain converts any error into an AppError. Domain sentinels (wrapped
// or not) keep their specific code, AppErrors pass through unchanged and
// everything else becomes INTERNAL_ERROR.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}
	for _, m := range domainCodes {
		if stderrors.Is(err, m.err) {
			return WrapError(err, m.code, m.err.Error(), m.status)
		}
	}
	return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	// Try to unwrap
	type unwrapper interface {
		Unwrap() error
	}

	if u, ok := err.(unwrapper); ok {
		return GetAppError(u.Unwrap())
	}

	return nil
}
