package config

import (
	"fmt"
	"time"
)

// Config 是 streamgate 的完整配置。env tag 组成环境变量名的一段。
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Stream    StreamConfig    `yaml:"stream" env:"STREAM"`
	Retry     RetryConfig     `yaml:"retry" env:"RETRY"`
	Sandbox   SandboxConfig   `yaml:"sandbox" env:"SANDBOX"`
	Execution ExecutionConfig `yaml:"execution" env:"EXECUTION"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig API 与 metrics 监听配置
type ServerConfig struct {
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// MetricsPort 为 0 时不启动 metrics 监听
	MetricsPort int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout 为 0 表示不限制，SSE 流依赖这一点
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimitRPS 按客户端 IP 计，0 关闭限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// HTTPAddr 返回 API 监听地址
func (s ServerConfig) HTTPAddr() string {
	return fmt.Sprintf(":%d", s.HTTPPort)
}

// MetricsAddr 返回 metrics 监听地址，未启用时为空
func (s ServerConfig) MetricsAddr() string {
	if s.MetricsPort == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", s.MetricsPort)
}

// RedisConfig 存活记录所在的 Redis
type RedisConfig struct {
	Addr                string        `yaml:"addr" env:"ADDR"`
	Password            string        `yaml:"password" env:"PASSWORD"`
	DB                  int           `yaml:"db" env:"DB"`
	PoolSize            int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns        int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	CommandTimeout      time.Duration `yaml:"command_timeout" env:"COMMAND_TIMEOUT"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// KeyPrefix 默认 "stream-state:"
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 会话数据库（apps 与 conversation_messages）
type DatabaseConfig struct {
	// Driver: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	Host   string `yaml:"host" env:"HOST"`
	Port   int    `yaml:"port" env:"PORT"`
	User   string `yaml:"user" env:"USER"`

	Password string `yaml:"password" env:"PASSWORD"`
	// Name 在 sqlite 下是文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`

	MigrationsTable string `yaml:"migrations_table" env:"MIGRATIONS_TABLE"`
	// AutoMigrate 在启动时执行 GORM AutoMigrate，仅用于开发环境
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// DSN 返回 gorm 方言使用的连接串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	}
	return ""
}

// StreamConfig 准入、心跳与运行参数
type StreamConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// MaxPollAttempts 耗尽后强制回收存活记录并返回 429
	MaxPollAttempts   int           `yaml:"max_poll_attempts" env:"MAX_POLL_ATTEMPTS"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	// LivenessTTL 必须大于 HeartbeatInterval
	LivenessTTL time.Duration `yaml:"liveness_ttl" env:"LIVENESS_TTL"`
	// MaxSteps 为 0 不限制
	MaxSteps int `yaml:"max_steps" env:"MAX_STEPS"`
	// FlushOnError 运行出错时仍保存已产生的消息
	FlushOnError bool `yaml:"flush_on_error" env:"FLUSH_ON_ERROR"`
	HistoryLimit int  `yaml:"history_limit" env:"HISTORY_LIMIT"`
	ChunkBuffer  int  `yaml:"chunk_buffer" env:"CHUNK_BUFFER"`
}

// RetryConfig 上游过载（429/503/529）时的指数退避
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
	BaseDelay  time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay   time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// SandboxConfig 开发服务器 API。关闭时运行不携带工具端点。
type SandboxConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ExecutionConfig 选择执行后端，目前只有 loopback
type ExecutionConfig struct {
	Provider string         `yaml:"provider" env:"PROVIDER"`
	Loopback LoopbackConfig `yaml:"loopback" env:"LOOPBACK"`
}

// LoopbackConfig 回显后端：把最新一条用户消息按步拆成 chunk 返回
type LoopbackConfig struct {
	Steps      int           `yaml:"steps" env:"STEPS"`
	ChunkDelay time.Duration `yaml:"chunk_delay" env:"CHUNK_DELAY"`
	Prefix     string        `yaml:"prefix" env:"PREFIX"`
}

// LogConfig zap 日志配置
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig OTLP/gRPC 导出
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure     bool    `yaml:"insecure" env:"INSECURE"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}
