// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package retry 提供面向上游限流与过载的指数退避重试执行器。

# 概述

Executor 包装任意操作：成功立即返回；只有带有 429 / 529、
overloaded_error 类型或 "overloaded" 文本的错误会被重试，
其余错误调用一次后直接返回。第 n 次重试前等待
min(MaxDelay, BaseDelay * 2^n * jitter)，jitter 在 [0.8, 1.2] 内均匀分布。

# 核心类型

  - RetryPolicy：重试次数、基础延迟、最大延迟、抖动区间与回调
  - Executor：执行器，支持注入等待函数与随机源
  - DoWithResult：带返回值的泛型入口
  - IsOverloaded / OverloadError：错误分类
*/
package retry
