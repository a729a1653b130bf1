package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/BaSui01/streamgate/types"
	"go.uber.org/zap"
)

// maxBodyBytes 聊天请求体上限
const maxBodyBytes = 1 << 20

// DecodeJSONBody 严格解码请求体：拒绝空体与未知字段，超过 1 MB 报错。
// 失败时已写出 400，调用方直接返回即可。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewInvalidRequestError("request body is empty")
		WriteError(w, err, logger)
		return err
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil {
		return nil
	}

	msg := "invalid JSON body"
	if tooLarge := (*http.MaxBytesError)(nil); errors.As(err, &tooLarge) {
		msg = "request body too large"
	}
	apiErr := types.NewInvalidRequestError(msg).WithCause(err)
	WriteError(w, apiErr, logger)
	return apiErr
}

// ValidateContentType 要求 application/json，参数（如 charset）不限
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "application/json" {
		return true
	}
	WriteError(w, types.NewInvalidRequestError("Content-Type must be application/json"), logger)
	return false
}
