package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/BaSui01/streamgate/api"
	"github.com/BaSui01/streamgate/conversation"
	"github.com/BaSui01/streamgate/internal/ctxkeys"
	"github.com/BaSui01/streamgate/stream"
	"github.com/BaSui01/streamgate/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🌊 流式对话 Handler
// =============================================================================

// StreamCoordinator 是 handler 依赖的协调器能力
type StreamCoordinator interface {
	Start(ctx context.Context, req stream.Request) (*stream.Run, error)
	Abort(resourceID string) bool
	Status(ctx context.Context, resourceID string) (stream.Status, error)
}

// StreamHandler 流式对话与流控制处理器
type StreamHandler struct {
	coordinator StreamCoordinator
	apps        conversation.AppStore
	logger      *zap.Logger
}

// NewStreamHandler 创建流处理器。apps 为空时不校验应用是否存在。
func NewStreamHandler(coordinator StreamCoordinator, apps conversation.AppStore, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		coordinator: coordinator,
		apps:        apps,
		logger:      logger.With(zap.String("handler", "stream")),
	}
}

// Register 注册路由
func (h *StreamHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/chat", h.HandleChat)
	mux.HandleFunc("GET /api/v1/apps/{id}/stream", h.HandleStatus)
	mux.HandleFunc("DELETE /api/v1/apps/{id}/stream", h.HandleAbort)
}

// HandleChat 处理流式对话请求
// @Summary 流式对话
// @Description 为应用启动新的流，已有的流会先被停止
// @Tags 流
// @Accept json
// @Produce text/event-stream
// @Param X-App-ID header string true "应用 ID"
// @Param request body api.ChatRequest true "对话请求"
// @Success 200 {string} string "SSE 流"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "应用不存在"
// @Failure 429 {object} Response "上一个流仍在退出或上游过载"
// @Failure 500 {object} Response "内部错误"
// @Router /api/v1/chat [post]
func (h *StreamHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	appID := r.Header.Get(api.AppIDHeader)
	if appID == "" {
		WriteError(w, types.NewInvalidRequestError(api.AppIDHeader+" header is required"), h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	turn, ok := req.Latest()
	if !ok {
		WriteError(w, types.NewInvalidRequestError("messages cannot be empty").WithResource(appID), h.logger)
		return
	}

	if !h.appExists(r.Context(), w, appID) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	run, err := h.coordinator.Start(r.Context(), stream.Request{
		ResourceID: appID,
		ThreadID:   req.ThreadID,
		Turn:       turn,
	})
	if err != nil {
		WriteErrorStatus(w, chatErrorStatus(err), AsAPIError(err), h.logger)
		return
	}

	// 设置 SSE 响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.pump(r.Context(), w, flusher, run)
}

// pump 转发 run 的进度事件。客户端断开时只停止转发，流继续运行直到结束。
func (h *StreamHandler) pump(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, run *stream.Run) {
	logger := h.logger.With(zap.String("resource_id", run.ResourceID()), zap.String("run_id", run.ID()))
	if id, ok := ctxkeys.RequestID(ctx); ok {
		logger = logger.With(zap.String("request_id", id))
	}

	chunks := run.Chunks()
	for chunks != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := writeEvent(w, api.EventChunk, chunk); err != nil {
				logger.Warn("failed to write chunk, detaching", zap.Error(err))
				run.Detach()
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			logger.Info("client disconnected, stream continues")
			run.Detach()
			return
		}
	}

	res, err := run.Wait(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	if err != nil {
		apiErr := AsAPIError(err)
		_ = writeEvent(w, api.EventError, api.StreamError{Code: string(apiErr.Code), Message: apiErr.Message})
	} else {
		_ = writeEvent(w, api.EventDone, api.StreamResult{
			RunID:      res.RunID,
			ResourceID: res.ResourceID,
			Outcome:    string(res.Outcome),
			Steps:      res.Steps,
			Persisted:  res.Persisted,
			DurationMs: res.Duration.Milliseconds(),
		})
	}
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// HandleAbort 处理停止流请求
// @Summary 停止流
// @Description 向本进程内运行中的流发送停止信号
// @Tags 流
// @Produce json
// @Param id path string true "应用 ID"
// @Success 202 {object} api.AbortResponse "已送达"
// @Success 200 {object} api.AbortResponse "本进程无运行中的流"
// @Router /api/v1/apps/{id}/stream [delete]
func (h *StreamHandler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("id")
	if appID == "" {
		WriteError(w, types.NewInvalidRequestError("app id is required"), h.logger)
		return
	}

	delivered := h.coordinator.Abort(appID)
	h.logger.Info("abort requested",
		zap.String("resource_id", appID),
		zap.Bool("delivered", delivered),
	)

	status := http.StatusOK
	if delivered {
		status = http.StatusAccepted
	}
	WriteSuccessStatus(w, status, api.AbortResponse{ResourceID: appID, Delivered: delivered})
}

// HandleStatus 处理流状态查询
// @Summary 流状态
// @Description 返回应用的存活记录与剩余 TTL
// @Tags 流
// @Produce json
// @Param id path string true "应用 ID"
// @Success 200 {object} api.StreamStatusResponse "流状态"
// @Failure 404 {object} Response "应用不存在"
// @Failure 503 {object} Response "存储不可用"
// @Router /api/v1/apps/{id}/stream [get]
func (h *StreamHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("id")
	if appID == "" {
		WriteError(w, types.NewInvalidRequestError("app id is required"), h.logger)
		return
	}
	if !h.appExists(r.Context(), w, appID) {
		return
	}

	st, err := h.coordinator.Status(r.Context(), appID)
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}

	WriteSuccess(w, api.StreamStatusResponse{
		ResourceID: st.ResourceID,
		Running:    st.Running,
		TTLMs:      st.TTL.Milliseconds(),
		LocalState: string(st.LocalState),
		Listening:  st.Listening,
	})
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// appExists 校验应用存在，失败时已写出响应
func (h *StreamHandler) appExists(ctx context.Context, w http.ResponseWriter, appID string) bool {
	if h.apps == nil {
		return true
	}
	_, err := h.apps.GetApp(ctx, appID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, conversation.ErrAppNotFound):
		WriteError(w, types.NewNotFoundError("app not found").WithResource(appID), h.logger)
	default:
		WriteError(w, types.NewError(types.ErrInternalError, "failed to load app").
			WithHTTPStatus(http.StatusInternalServerError).
			WithResource(appID).
			WithCause(err), h.logger)
	}
	return false
}

// chatErrorStatus 对话路由只暴露 400/404/429/500
func chatErrorStatus(err error) int {
	switch {
	case types.IsCode(err, types.ErrAdmissionTimeout), types.IsCode(err, types.ErrRetriesExhausted):
		return http.StatusTooManyRequests
	case types.IsCode(err, types.ErrInvalidRequest):
		return http.StatusBadRequest
	case types.IsCode(err, types.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeEvent 写出一条 SSE 事件，负载经 json.Marshal 转义
func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
