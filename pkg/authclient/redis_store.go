package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 过期记录在redis中的保留时间，用于auth-service不可达时回退
const defaultStaleRetention = time.Hour

// RedisStore 多个实例共享的redis缓存。
// key格式：<prefix><service_key>:<user_id>，值为Entry的JSON
type RedisStore struct {
	rdb       *redis.Client
	prefix    string
	retention time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 创建redis缓存。retention为记录过期后继续保留的时长
func NewRedisStore(rdb *redis.Client, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "auth-connector:permissions:"
	}
	if retention <= 0 {
		retention = defaultStaleRetention
	}
	return &RedisStore{rdb: rdb, prefix: prefix, retention: retention}
}

// Get 读取记录
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	bs, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("读取redis缓存失败: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(bs, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("解析redis缓存失败: %w", err)
	}
	return entry, true, nil
}

// Set 写入记录，redis中的过期时间为逻辑过期时间加上保留时长
func (s *RedisStore) Set(ctx context.Context, key string, entry Entry) error {
	bs, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化缓存失败: %w", err)
	}

	ttl := time.Until(entry.ExpireAt) + s.retention
	if ttl <= 0 {
		ttl = s.retention
	}
	if err := s.rdb.Set(ctx, s.prefix+key, bs, ttl).Err(); err != nil {
		return fmt.Errorf("写入redis缓存失败: %w", err)
	}
	return nil
}

// Clear 删除前缀下的全部记录
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("扫描redis缓存失败: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("清除redis缓存失败: %w", err)
	}
	return nil
}
