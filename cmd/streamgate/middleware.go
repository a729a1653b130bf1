package main

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/BaSui01/streamgate/api/handlers"
	"github.com/BaSui01/streamgate/internal/ctxkeys"
	"github.com/BaSui01/streamgate/internal/metrics"
	"github.com/BaSui01/streamgate/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	appIDHeader     = "X-App-ID"
	maxRequestIDLen = 128
)

// Middleware 包装一个 http.Handler
type Middleware func(http.Handler) http.Handler

// Chain 依次包装 h；列表中的第一个位于最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery 把 handler 的 panic 转换为 500。http.ErrAbortHandler 照常抛出，
// 客户端断开 SSE 时 net/http 依赖它静默关闭连接。
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				handlers.WriteError(w, types.NewError(types.ErrInternalError, "internal server error"), nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 沿用客户端的 X-Request-ID，缺失或过长时生成 UUID
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" || len(id) > maxRequestIDLen {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
		})
	}
}

var securityHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"X-XSS-Protection", "1; mode=block"},
	{"Content-Security-Policy", "default-src 'self'"},
}

// SecurityHeaders 为每个响应加上固定的安全头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range securityHeaders {
				h.Set(kv[0], kv[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 在请求结束后记录一条访问日志。流式请求在流结束时才记录。
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			fields := append(make([]zap.Field, 0, 8),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Int64("bytes", rw.Bytes),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
			if id, ok := ctxkeys.RequestID(r.Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
			if appID := r.Header.Get(appIDHeader); appID != "" {
				fields = append(fields, zap.String("resource_id", appID))
			}
			logger.Info("request", fields...)
		})
	}
}

// MetricsMiddleware 记录请求耗时、状态与大小。路由标签经过归一化。
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			collector.RecordHTTPRequest(r.Method, normalizePath(r.URL.Path), rw.StatusCode,
				time.Since(start), max(r.ContentLength, 0), rw.Bytes)
		})
	}
}

var (
	appStreamPath = regexp.MustCompile(`^/api/v1/apps/[^/]+/stream$`)
	fixedRoutes   = map[string]bool{
		"/health": true, "/healthz": true, "/ready": true, "/readyz": true,
		"/version": true, "/metrics": true, "/api/v1/chat": true,
	}
)

// normalizePath 把每个应用的路由折叠成一个标签，未知路径记为 other
//
//	/api/v1/apps/demo-app/stream -> /api/v1/apps/:id/stream
func normalizePath(path string) string {
	switch {
	case fixedRoutes[path]:
		return path
	case appStreamPath.MatchString(path):
		return "/api/v1/apps/:id/stream"
	case strings.HasPrefix(path, "/api/"):
		return path
	}
	return "other"
}
