// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 streamgate 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 retry、liveness、stream、
conversation 与 api 等上层模块提供统一的类型契约。

# 核心类型

  - Turn / Part：对话轮次（Role、Parts、所属资源与线程）
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、资源标记

# 错误分类

  - RATE_LIMITED / MODEL_OVERLOADED：上游瞬时过载，可由 retry 重试
  - RETRIES_EXHAUSTED：重试耗尽，对外表现为 429
  - ADMISSION_TIMEOUT：旧流在等待预算内未退出，对外表现为 429
  - EXECUTION_ERROR：执行提供方错误，不重试
  - STORE_UNAVAILABLE：存活存储或持久化存储故障
*/
package types
