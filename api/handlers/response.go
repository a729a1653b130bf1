package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/BaSui01/streamgate/types"
	"go.uber.org/zap"
)

// Response 非流式接口的统一响应信封
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误详情。准入超时携带 resource_id 与 retryable=true，
// 客户端据此决定是否稍后重连。
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	ResourceID string `json:"resource_id,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"`
}

// codeStatus 错误码的默认 HTTP 状态，未列出的按 500 处理
var codeStatus = map[types.ErrorCode]int{
	types.ErrInvalidRequest:     http.StatusBadRequest,
	types.ErrNotFound:           http.StatusNotFound,
	types.ErrRateLimited:        http.StatusTooManyRequests,
	types.ErrRetriesExhausted:   http.StatusTooManyRequests,
	types.ErrAdmissionTimeout:   http.StatusTooManyRequests,
	types.ErrModelOverloaded:    http.StatusServiceUnavailable,
	types.ErrServiceUnavailable: http.StatusServiceUnavailable,
	types.ErrStoreUnavailable:   http.StatusServiceUnavailable,
	types.ErrUpstreamError:      http.StatusBadGateway,
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON 以 JSON 写出 data。响应头写出后编码失败只能放弃。
func WriteJSON(w http.ResponseWriter, status int, data any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 200 成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

// WriteSuccessStatus 以指定状态写出成功响应，例如 abort 的 202
func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Response{Success: true, Data: data, Timestamp: time.Now()})
}

// WriteError 按错误自带或错误码推导的状态写出
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}
	WriteErrorStatus(w, status, err, logger)
}

// WriteErrorStatus 记录并写出错误。5xx 记 error，其余记 warn。
func WriteErrorStatus(w http.ResponseWriter, status int, err *types.Error, logger *zap.Logger) {
	if logger != nil {
		logAPIError(logger, status, err)
	}
	WriteJSON(w, status, Response{
		Error: &ErrorInfo{
			Code:       string(err.Code),
			Message:    err.Message,
			ResourceID: err.ResourceID,
			Retryable:  err.Retryable,
			HTTPStatus: status,
		},
		Timestamp: time.Now(),
	})
}

func logAPIError(logger *zap.Logger, status int, err *types.Error) {
	fields := make([]zap.Field, 0, 6)
	fields = append(fields,
		zap.String("code", string(err.Code)),
		zap.String("message", err.Message),
		zap.Int("status", status),
		zap.Bool("retryable", err.Retryable),
	)
	if err.ResourceID != "" {
		fields = append(fields, zap.String("resource_id", err.ResourceID))
	}
	if err.Cause != nil {
		fields = append(fields, zap.Error(err.Cause))
	}

	log := logger.Warn
	if status >= http.StatusInternalServerError {
		log = logger.Error
	}
	log("API error", fields...)
}

// WriteErrorMessage 直接以错误码和消息写出
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// AsAPIError 取出错误链中的 *types.Error，否则包装为内部错误
func AsAPIError(err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	return types.NewError(types.ErrInternalError, "internal error").WithCause(err)
}
