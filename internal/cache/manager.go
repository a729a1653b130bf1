package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrCacheMiss 键不存在或已过期
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 连接已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// dialTimeout 建连时的首次 PING 与后台探活共用
const dialTimeout = 5 * time.Second

// Config Redis 连接配置
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// MaxRetries 是 go-redis 的网络层重试，与准入轮询无关
	MaxRetries   int `yaml:"max_retries" json:"max_retries"`
	PoolSize     int `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// CommandTimeout 同时作为读写超时
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout"`

	// HealthCheckInterval 为 0 时不启动后台探活
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回本地开发用的默认配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		CommandTimeout:      3 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Manager 封装一个 go-redis 客户端，提供存活记录需要的少量字符串操作
type Manager struct {
	client *redis.Client
	log    *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewManager 建立连接并确认 Redis 可达
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.CommandTimeout,
		WriteTimeout: cfg.CommandTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		client: client,
		log:    logger.With(zap.String("component", "cache")),
		done:   make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		go m.watch(cfg.HealthCheckInterval)
	}
	m.log.Info("redis connection initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize),
	)
	return m, nil
}

// use 在读锁下执行 fn；关闭后返回 ErrClosed
func (m *Manager) use(fn func(c *redis.Client) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(m.client)
}

// Get 读取字符串值；键不存在时返回 ErrCacheMiss
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := m.use(func(c *redis.Client) error {
		var err error
		val, err = c.Get(ctx, key).Result()
		return err
	})
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrCacheMiss
	case errors.Is(err, ErrClosed):
		return "", err
	case err != nil:
		m.log.Error("redis get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set 写入值并重置过期时间。存活记录必须带 TTL，因此拒绝非正值。
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redis set %s: ttl must be positive", key)
	}
	err := m.use(func(c *redis.Client) error { return c.Set(ctx, key, value, ttl).Err() })
	if err != nil && !errors.Is(err, ErrClosed) {
		m.log.Error("redis set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return err
}

// Delete 删除若干键，不存在的键忽略
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	err := m.use(func(c *redis.Client) error {
		if len(keys) == 0 {
			return nil
		}
		return c.Del(ctx, keys...).Err()
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		m.log.Error("redis delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("redis delete: %w", err)
	}
	return err
}

// TTL 返回剩余生存时间。键不存在时返回 ErrCacheMiss，永不过期的键返回 0。
func (m *Manager) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := m.use(func(c *redis.Client) error {
		var err error
		ttl, err = c.TTL(ctx, key).Result()
		return err
	})
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return 0, err
		}
		return 0, fmt.Errorf("redis ttl %s: %w", key, err)
	}
	// go-redis 以 -2 / -1 表示「不存在」与「无过期」，单位随版本为纳秒或秒
	switch ttl {
	case -2, -2 * time.Second:
		return 0, ErrCacheMiss
	}
	return max(ttl, 0), nil
}

// Ping 检查连通性
func (m *Manager) Ping(ctx context.Context) error {
	return m.use(func(c *redis.Client) error { return c.Ping(ctx).Err() })
}

// Close 停止探活并关闭连接池，可重复调用
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.log.Info("closing redis connection")
	return m.client.Close()
}

func (m *Manager) watch(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
			if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrClosed) {
				m.log.Error("redis health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// IsCacheMiss 判断 err 是否表示键不存在
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
