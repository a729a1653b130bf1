// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 streamgate 服务端程序入口。

# 概述

cmd/streamgate 装配流协调器与其外围组件：Redis 存活记录、SQL 会话存储、
可选的 sandbox 开发服务器、OpenTelemetry 与 Prometheus，并提供 HTTP API、
数据库迁移、应用注册、健康检查和版本查询等子命令。

# 核心类型

  - Server：主服务器，持有协调器、连接池与 API/Metrics 两个监听
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、app create、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、RateLimiter（基于 IP）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus），端口为 0 时关闭
  - 优雅关闭：信号 → 关闭监听并中止所有运行中的流 → 等待落盘 → 释放连接池、Redis 与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
