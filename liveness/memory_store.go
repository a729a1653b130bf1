package liveness

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with clock-enforced expiry.
// Suitable for single-replica deployments and tests; records are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]time.Time // resourceID -> expiry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// MarkRunning 写入 running 并重置过期时间
func (s *MemoryStore) MarkRunning(_ context.Context, resourceID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[resourceID] = s.now().Add(ttl)
	return nil
}

// Get 读取存活记录，过期记录视为不存在
func (s *MemoryStore) Get(_ context.Context, resourceID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiredLocked(resourceID) {
		return StatusAbsent, nil
	}
	return StatusRunning, nil
}

// Clear 删除存活记录
func (s *MemoryStore) Clear(_ context.Context, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, resourceID)
	return nil
}

// TTL 返回剩余生存时间
func (s *MemoryStore) TTL(_ context.Context, resourceID string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiredLocked(resourceID) {
		return 0, nil
	}
	return s.records[resourceID].Sub(s.now()), nil
}

func (s *MemoryStore) expiredLocked(resourceID string) bool {
	expiry, ok := s.records[resourceID]
	if !ok {
		return true
	}
	if !s.now().Before(expiry) {
		delete(s.records, resourceID)
		return true
	}
	return false
}
