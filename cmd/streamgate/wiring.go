package main

import (
	"time"

	"github.com/BaSui01/streamgate/config"
	"github.com/BaSui01/streamgate/execution/loopback"
	"github.com/BaSui01/streamgate/internal/cache"
	"github.com/BaSui01/streamgate/internal/server"
	"github.com/BaSui01/streamgate/retry"
	"github.com/BaSui01/streamgate/sandbox"
	"github.com/BaSui01/streamgate/stream"
	"go.uber.org/zap"
)

// 配置到各组件配置的转换。config 包不依赖业务包，转换集中在这里。

func streamConfig(c config.StreamConfig) stream.Config {
	return stream.Config{
		PollInterval:      c.PollInterval,
		MaxPollAttempts:   c.MaxPollAttempts,
		HeartbeatInterval: c.HeartbeatInterval,
		LivenessTTL:       c.LivenessTTL,
		MaxSteps:          c.MaxSteps,
		FlushOnError:      c.FlushOnError,
		HistoryLimit:      c.HistoryLimit,
		ChunkBuffer:       c.ChunkBuffer,
	}
}

func cacheConfig(c config.RedisConfig) cache.Config {
	cc := cache.DefaultConfig()
	cc.Addr = c.Addr
	cc.Password = c.Password
	cc.DB = c.DB
	if c.PoolSize > 0 {
		cc.PoolSize = c.PoolSize
	}
	cc.MinIdleConns = c.MinIdleConns
	if c.CommandTimeout > 0 {
		cc.CommandTimeout = c.CommandTimeout
	}
	cc.HealthCheckInterval = c.HealthCheckInterval
	return cc
}

// retryRecorder 接收重试事件
type retryRecorder interface {
	RecordRetry(operation string)
}

// newRetryExecutor 为一类操作创建退避执行器，每次重试记录指标与日志
func newRetryExecutor(c config.RetryConfig, operation string, rec retryRecorder, logger *zap.Logger) *retry.Executor {
	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = c.MaxRetries
	if c.BaseDelay > 0 {
		policy.BaseDelay = c.BaseDelay
	}
	if c.MaxDelay > 0 {
		policy.MaxDelay = c.MaxDelay
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		if rec != nil {
			rec.RecordRetry(operation)
		}
		logger.Debug("operation retry scheduled",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	return retry.NewExecutor(policy, logger)
}

func sandboxConfig(c config.SandboxConfig) sandbox.Config {
	return sandbox.Config{
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Timeout: c.Timeout,
	}
}

func loopbackConfig(c config.LoopbackConfig) loopback.Config {
	return loopback.Config{
		Steps:      c.Steps,
		ChunkDelay: c.ChunkDelay,
		Prefix:     c.Prefix,
	}
}

func apiServerConfig(c config.ServerConfig) server.Config {
	return server.Config{
		Name:            "api",
		Addr:            c.HTTPAddr(),
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		IdleTimeout:     c.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: c.ShutdownTimeout,
	}
}

func metricsServerConfig(c config.ServerConfig) server.Config {
	return server.Config{
		Name:            "metrics",
		Addr:            c.MetricsAddr(),
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.ReadTimeout,
		IdleTimeout:     c.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: c.ShutdownTimeout,
	}
}
