package conversation

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/streamgate/types"
)

// MemoryStore 内存会话存储，适用于开发与测试
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]types.Turn // resourceID/threadID -> turns in insertion order
	ids     map[string]struct{}
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]types.Turn),
		ids:     make(map[string]struct{}),
	}
}

func threadKey(resourceID, threadID string) string {
	return resourceID + "/" + threadID
}

// SaveMessages 保存消息，已存在的 ID 被跳过
func (s *MemoryStore) SaveMessages(_ context.Context, resourceID, threadID string, turns []types.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	for _, t := range turns {
		t = t.Normalize(resourceID, threadID)
		if _, ok := s.ids[t.ID]; ok {
			continue
		}
		s.ids[t.ID] = struct{}{}
		key := threadKey(t.ResourceID, t.ThreadID)
		s.threads[key] = append(s.threads[key], t)
	}
	return nil
}

// ListMessages 按时间顺序返回最新的 limit 条消息
func (s *MemoryStore) ListMessages(_ context.Context, resourceID, threadID string, limit int) ([]types.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	src := s.threads[threadKey(resourceID, threadID)]
	out := make([]types.Turn, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// CountMessages 返回会话消息数
func (s *MemoryStore) CountMessages(_ context.Context, resourceID, threadID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(s.threads[threadKey(resourceID, threadID)])), nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
