package retry

import (
	"errors"
	"net/http"
	"strings"

	"github.com/BaSui01/streamgate/types"
)

// StatusOverloaded is the non-standard status some model vendors return when
// their capacity is exhausted.
const StatusOverloaded = 529

// OverloadedErrorType is the vendor error type attached to capacity failures.
const OverloadedErrorType = "overloaded_error"

type statusCoder interface {
	StatusCode() int
}

type codeCarrier interface {
	Code() int
}

type typedError interface {
	ErrorType() string
}

// IsOverloaded reports whether err carries a "too many requests" or
// "overloaded" signal anywhere in its chain.
func IsOverloaded(err error) bool {
	if err == nil {
		return false
	}

	if e, ok := types.AsError(err); ok {
		switch e.Code {
		case types.ErrRateLimited, types.ErrModelOverloaded:
			return true
		case types.ErrRetriesExhausted, types.ErrAdmissionTimeout:
			// 已是终态，外层执行器不再重试
			return false
		}
		if isOverloadStatus(e.HTTPStatus) {
			return true
		}
	}

	var sc statusCoder
	if errors.As(err, &sc) && isOverloadStatus(sc.StatusCode()) {
		return true
	}

	var cc codeCarrier
	if errors.As(err, &cc) && isOverloadStatus(cc.Code()) {
		return true
	}

	var te typedError
	if errors.As(err, &te) && te.ErrorType() == OverloadedErrorType {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "overloaded")
}

func isOverloadStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == StatusOverloaded
}

// OverloadError 表示上游返回的限流 / 过载响应
type OverloadError struct {
	Status  int
	Type    string
	Message string
}

func (e *OverloadError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if text := http.StatusText(e.Status); text != "" {
		return text
	}
	return "upstream overloaded"
}

// StatusCode 实现 statusCoder
func (e *OverloadError) StatusCode() int {
	return e.Status
}

// ErrorType 实现 typedError
func (e *OverloadError) ErrorType() string {
	return e.Type
}
