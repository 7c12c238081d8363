package authclient

import (
	"context"
	"sync"
	"time"
)

// Entry 一条权限缓存记录。过期后仍会保留，用于auth-service不可达时回退
type Entry struct {
	Permissions []string  `json:"permissions"`
	ExpireAt    time.Time `json:"expire_at"`
}

// Fresh 判断记录在now时刻是否仍然有效
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpireAt)
}

// Store 权限缓存的存储后端
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Clear(ctx context.Context) error
}

// MemoryStore 进程内缓存
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建进程内缓存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

// Get 读取记录，返回副本
func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, found := s.entries[key]
	if !found {
		return Entry{}, false, nil
	}
	entry.Permissions = copyPermissions(entry.Permissions)
	return entry, true, nil
}

// Set 写入记录
func (s *MemoryStore) Set(ctx context.Context, key string, entry Entry) error {
	entry.Permissions = copyPermissions(entry.Permissions)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
	return nil
}

// Clear 清空全部记录
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	return nil
}

// Len 返回记录数量
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// copyPermissions 复制权限集合，空集合保持为非nil
func copyPermissions(perms []string) []string {
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}
