package api

import (
	"time"

	"github.com/BaSui01/streamgate/types"
)

// =============================================================================
// 流式对话类型
// =============================================================================

// AppIDHeader 标识请求所属应用的请求头
const AppIDHeader = "X-App-ID"

// ChatRequest 表示一次流式对话请求。最后一条消息作为本次输入。
// @Description 流式对话请求结构
type ChatRequest struct {
	// 对话消息
	Messages []types.Turn `json:"messages" binding:"required"`
	// 会话线程 ID（默认与应用 ID 相同）
	ThreadID string `json:"thread_id,omitempty" example:"thread-1"`
}

// Latest 返回最后一条消息
func (r *ChatRequest) Latest() (types.Turn, bool) {
	if len(r.Messages) == 0 {
		return types.Turn{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}

// SSE 事件名称
const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// StreamResult 是流结束时发送的 done 事件负载
// @Description 流结束摘要
type StreamResult struct {
	RunID      string `json:"run_id"`
	ResourceID string `json:"resource_id"`
	Outcome    string `json:"outcome" example:"completed"`
	Steps      int    `json:"steps"`
	Persisted  int    `json:"persisted"`
	DurationMs int64  `json:"duration_ms"`
}

// StreamError 是 error 事件负载
type StreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// =============================================================================
// 流控制类型
// =============================================================================

// AbortResponse 表示停止请求的结果
// @Description 停止流响应
type AbortResponse struct {
	ResourceID string `json:"resource_id"`
	// 本进程内是否有运行中的流收到停止信号
	Delivered bool `json:"delivered"`
}

// StreamStatusResponse 表示应用当前流的状态
// @Description 流状态响应
type StreamStatusResponse struct {
	ResourceID string `json:"resource_id"`
	Running    bool   `json:"running"`
	// 存活记录剩余时间（毫秒）
	TTLMs      int64  `json:"ttl_ms"`
	LocalState string `json:"local_state"`
	Listening  bool   `json:"listening"`
}

// TTL 返回剩余时间
func (s StreamStatusResponse) TTL() time.Duration {
	return time.Duration(s.TTLMs) * time.Millisecond
}
