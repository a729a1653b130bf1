// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 streamgate HTTP API 的请求处理器实现。

# 概述

handlers 包实现流式对话、流控制与健康检查端点，以及统一的响应/错误
处理。所有 Handler 均遵循标准 net/http 接口，路由使用 Go 1.22 的
方法与路径通配模式。

# 核心类型

  - StreamHandler：流式对话（SSE）、停止流与流状态查询
  - StreamCoordinator：StreamHandler 依赖的协调器能力
  - HealthHandler：服务健康检查（/health, /healthz, /ready）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码，支持 Flush
  - HealthCheck：可插拔健康检查接口（PingCheck 覆盖 Redis 与数据库）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射；对话路由只暴露 400/404/429/500
  - SSE 输出：chunk 事件转发进度，done 或 error 事件收尾；客户端断开时
    只停止转发，流继续运行并在结束时持久化
  - 可扩展健康检查：RegisterCheck 注册，HandleReady 并发执行
*/
package handlers
