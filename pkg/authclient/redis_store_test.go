package authclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore_SetGet(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "test:", 10*time.Minute)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "svc:u-1")
	require.NoError(t, err)
	assert.False(t, ok)

	expireAt := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	require.NoError(t, s.Set(ctx, "svc:u-1", Entry{Permissions: []string{"a", "b"}, ExpireAt: expireAt}))

	assert.True(t, mr.Exists("test:svc:u-1"))
	ttl := mr.TTL("test:svc:u-1")
	assert.Greater(t, ttl, 10*time.Minute, "过期后仍需保留一段时间")
	assert.LessOrEqual(t, ttl, 15*time.Minute)

	entry, ok, err := s.Get(ctx, "svc:u-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, entry.Permissions)
	assert.True(t, entry.ExpireAt.Equal(expireAt))
}

func TestRedisStore_CorruptValue(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "", 0)

	require.NoError(t, mr.Set("auth-connector:permissions:k", "{not json"))
	_, _, err := s.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestRedisStore_Clear(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "test:", 0)
	ctx := context.Background()

	for _, k := range []string{"svc:u-1", "svc:u-2", "svc:u-3"} {
		require.NoError(t, s.Set(ctx, k, Entry{Permissions: []string{"x"}, ExpireAt: time.Now().Add(time.Minute)}))
	}
	require.NoError(t, mr.Set("other:key", "keep"))

	require.NoError(t, s.Clear(ctx))
	assert.False(t, mr.Exists("test:svc:u-1"))
	assert.True(t, mr.Exists("other:key"))

	// 空缓存时也不报错
	require.NoError(t, s.Clear(ctx))
}

func TestRedisStore_UnavailableFallsBackInCache(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "test:", 0)
	f := &scriptedFetch{}
	c := NewPermissionCache("svc", s, f.fetch, time.Minute, nil, nil)

	mr.Close()

	// redis不可用时直接请求auth-service
	assert.Equal(t, []string{"default"}, c.Get(context.Background(), "u-1", false))
	assert.Equal(t, 1, f.count())
}

func TestPermissionCache_WithRedisStore(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "test:", 0)
	f := &scriptedFetch{}
	c := NewPermissionCache("svc", s, f.fetch, time.Minute, nil, nil)
	ctx := context.Background()

	c.Get(ctx, "u-1", false)
	c.Get(ctx, "u-1", false)
	assert.Equal(t, 1, f.count())
}

func TestPermissionCache_RedisNotFoundStaysEmptySet(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "test:", 0)
	f := &scriptedFetch{results: []fetchResult{{found: false}}}
	c := NewPermissionCache("svc", s, f.fetch, time.Minute, nil, nil)
	ctx := context.Background()

	assert.Equal(t, []string{}, c.Get(ctx, "ghost", false))
	assert.Equal(t, []string{}, c.Get(ctx, "ghost", false))
	assert.Equal(t, 1, f.count())
}
