package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across streamgate.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Upstream error codes
const (
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrModelOverloaded    ErrorCode = "MODEL_OVERLOADED"
	ErrRetriesExhausted   ErrorCode = "RETRIES_EXHAUSTED"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Stream lifecycle error codes
const (
	ErrAdmissionTimeout ErrorCode = "ADMISSION_TIMEOUT"
	ErrExecution        ErrorCode = "EXECUTION_ERROR"
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	ResourceID string    `json:"resource_id,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode exposes the HTTP status so transport-agnostic classifiers can read it.
func (e *Error) StatusCode() int {
	return e.HTTPStatus
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithResource sets the resource the error refers to.
func (e *Error) WithResource(resourceID string) *Error {
	e.ResourceID = resourceID
	return e
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// =============================================================================
// 常用错误构造
// =============================================================================

// NewInvalidRequestError 请求参数错误
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewNotFoundError 资源不存在
func NewNotFoundError(message string) *Error {
	return NewError(ErrNotFound, message).WithHTTPStatus(http.StatusNotFound)
}

// NewAdmissionTimeoutError 上一个流在等待预算内未能退出
func NewAdmissionTimeoutError(resourceID string) *Error {
	return NewError(ErrAdmissionTimeout, "previous stream is still shutting down, please try again").
		WithHTTPStatus(http.StatusTooManyRequests).
		WithRetryable(true).
		WithResource(resourceID)
}

// NewStoreUnavailableError 共享存储不可用
func NewStoreUnavailableError(op string, cause error) *Error {
	return NewError(ErrStoreUnavailable, op+" failed").
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithCause(cause)
}

// NewExecutionError 执行提供方返回的错误
func NewExecutionError(resourceID string, cause error) *Error {
	return NewError(ErrExecution, "stream execution failed").
		WithHTTPStatus(http.StatusInternalServerError).
		WithResource(resourceID).
		WithCause(cause)
}
