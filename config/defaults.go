package config

import "time"

// DefaultConfig 返回各段默认值的组合
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Stream:    DefaultStreamConfig(),
		Retry:     DefaultRetryConfig(),
		Sandbox:   DefaultSandboxConfig(),
		Execution: DefaultExecutionConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig API 8080，metrics 9091，写超时不限制
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		PoolSize:            10,
		MinIdleConns:        2,
		CommandTimeout:      3 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		KeyPrefix:           "stream-state:",
	}
}

func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "streamgate",
		Name:            "streamgate",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
		MigrationsTable: "schema_migrations",
	}
}

// DefaultStreamConfig 准入最多等待 500ms × 60 = 30s；
// 心跳 5s 续期一条 15s TTL 的存活记录
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PollInterval:      500 * time.Millisecond,
		MaxPollAttempts:   60,
		HeartbeatInterval: 5 * time.Second,
		LivenessTTL:       15 * time.Second,
		MaxSteps:          100,
		HistoryLimit:      100,
		ChunkBuffer:       64,
	}
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 15 * time.Second}
}

func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{BaseURL: "https://api.freestyle.sh", Timeout: 30 * time.Second}
}

func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Provider: "loopback",
		Loopback: LoopbackConfig{Steps: 3, Prefix: "echo"},
	}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 默认关闭；启用后按 10% 采样根 span
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "streamgate",
		SampleRate:   0.1,
	}
}
