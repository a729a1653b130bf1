package liveness

import (
	"context"
	"time"

	"github.com/BaSui01/streamgate/internal/cache"
	"github.com/BaSui01/streamgate/types"
	"go.uber.org/zap"
)

// KV is the subset of the Redis connection manager the store needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// RedisStore keeps liveness records in Redis with SET EX semantics.
type RedisStore struct {
	kv     KV
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed liveness store. An empty prefix uses DefaultKeyPrefix.
func NewRedisStore(kv KV, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		kv:     kv,
		prefix: prefix,
		logger: logger.With(zap.String("component", "liveness")),
	}
}

// MarkRunning 写入 running 并重置 TTL
func (s *RedisStore) MarkRunning(ctx context.Context, resourceID string, ttl time.Duration) error {
	if err := s.kv.Set(ctx, Key(s.prefix, resourceID), string(StatusRunning), ttl); err != nil {
		return types.NewStoreUnavailableError("liveness mark", err).WithResource(resourceID)
	}
	return nil
}

// Get 读取存活记录
func (s *RedisStore) Get(ctx context.Context, resourceID string) (Status, error) {
	val, err := s.kv.Get(ctx, Key(s.prefix, resourceID))
	if cache.IsCacheMiss(err) {
		return StatusAbsent, nil
	}
	if err != nil {
		return StatusAbsent, types.NewStoreUnavailableError("liveness get", err).WithResource(resourceID)
	}
	if Status(val) != StatusRunning {
		s.logger.Warn("unexpected liveness value",
			zap.String("resource_id", resourceID),
			zap.String("value", val),
		)
		return StatusAbsent, nil
	}
	return StatusRunning, nil
}

// Clear 删除存活记录
func (s *RedisStore) Clear(ctx context.Context, resourceID string) error {
	if err := s.kv.Delete(ctx, Key(s.prefix, resourceID)); err != nil {
		return types.NewStoreUnavailableError("liveness clear", err).WithResource(resourceID)
	}
	return nil
}

// TTL 返回剩余生存时间
func (s *RedisStore) TTL(ctx context.Context, resourceID string) (time.Duration, error) {
	ttl, err := s.kv.TTL(ctx, Key(s.prefix, resourceID))
	if cache.IsCacheMiss(err) {
		return 0, nil
	}
	if err != nil {
		return 0, types.NewStoreUnavailableError("liveness ttl", err).WithResource(resourceID)
	}
	return ttl, nil
}
