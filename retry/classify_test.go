package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/BaSui01/streamgate/types"
	"github.com/stretchr/testify/assert"
)

type vendorCodeError struct{ code int }

func (e vendorCodeError) Error() string { return fmt.Sprintf("vendor code %d", e.code) }
func (e vendorCodeError) Code() int     { return e.code }

type vendorTypedError struct{ kind string }

func (e vendorTypedError) Error() string     { return "vendor failure" }
func (e vendorTypedError) ErrorType() string { return e.kind }

func TestIsOverloaded(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("connection reset"), false},
		{"status 429", &OverloadError{Status: 429}, true},
		{"status 529", &OverloadError{Status: 529}, true},
		{"status 500", &OverloadError{Status: 500, Message: "server error"}, false},
		{"code 429", vendorCodeError{code: 429}, true},
		{"code 400", vendorCodeError{code: 400}, false},
		{"overloaded_error type", vendorTypedError{kind: OverloadedErrorType}, true},
		{"other vendor type", vendorTypedError{kind: "invalid_request_error"}, false},
		{"message text", errors.New("Anthropic API is Overloaded, try later"), true},
		{"wrapped status", fmt.Errorf("request dev server: %w", &OverloadError{Status: 429}), true},
		{"types rate limited", types.NewError(types.ErrRateLimited, "slow down"), true},
		{"types model overloaded", types.NewError(types.ErrModelOverloaded, "busy"), true},
		{"types http 529", types.NewError(types.ErrUpstreamError, "busy").WithHTTPStatus(529), true},
		{"types execution", types.NewExecutionError("A1", errors.New("tool crashed")), false},
		{"context canceled", context.Canceled, false},
		{"retries exhausted", types.NewError(types.ErrRetriesExhausted, "retries exhausted").
			WithHTTPStatus(429).WithCause(&OverloadError{Status: 529}), false},
		{"admission timeout", types.NewAdmissionTimeoutError("A1"), false},
		{"wrapped retries exhausted", fmt.Errorf("create repo: %w",
			types.NewError(types.ErrRetriesExhausted, "upstream overloaded").WithHTTPStatus(429)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOverloaded(tt.err))
		})
	}
}

func TestOverloadError_Message(t *testing.T) {
	assert.Equal(t, "Too Many Requests", (&OverloadError{Status: 429}).Error())
	assert.Equal(t, "upstream overloaded", (&OverloadError{Status: 529}).Error())
	assert.Equal(t, "custom", (&OverloadError{Status: 529, Message: "custom"}).Error())
}
