// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
流协调、重试与数据库连接池四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
流协调相关指标位于 stream 子系统下。

# 核心类型

  - Collector：指标收集器，同时实现 stream.Metrics 接口，
    可直接注入流协调器。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 流协调指标：准入结果、抢占请求、强制回收、心跳结果、
    运行结果与耗时、终止路径持久化的消息数。
  - 重试指标：按 operation 分组的退避重试次数。
  - 数据库指标：活跃/空闲连接数 Gauge，按 database 分组。
*/
package metrics
