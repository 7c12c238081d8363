package authclient

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/kong-auth-connector/pkg/clock"
	"github.com/hewenyu/kong-auth-connector/pkg/config"
)

// DefaultCacheTTL 权限缓存有效期
const DefaultCacheTTL = 5 * time.Minute

// FetchFunc 从auth-service获取用户权限。用户不存在时found为false，传输失败时返回err
type FetchFunc func(ctx context.Context, userID string) (permissions []string, found bool, err error)

// PermissionCache 用户权限缓存。传输失败不会向调用方暴露，
// 有旧值时返回旧值，否则返回空集合
type PermissionCache struct {
	scope  string
	store  Store
	fetch  FetchFunc
	ttl    time.Duration
	clock  clock.Clock
	logger config.Logger
}

// NewPermissionCache 创建权限缓存，scope用于区分不同服务的缓存key
func NewPermissionCache(scope string, store Store, fetch FetchFunc, ttl time.Duration, clk clock.Clock, logger config.Logger) *PermissionCache {
	if store == nil {
		store = NewMemoryStore()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clk == nil {
		clk = clock.System
	}
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &PermissionCache{
		scope:  scope,
		store:  store,
		fetch:  fetch,
		ttl:    ttl,
		clock:  clk,
		logger: logger,
	}
}

func (c *PermissionCache) key(userID string) string {
	return c.scope + ":" + userID
}

// Get 返回用户权限。命中且未过期时直接返回，forceRefresh为true时总是请求auth-service
func (c *PermissionCache) Get(ctx context.Context, userID string, forceRefresh bool) []string {
	key := c.key(userID)

	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("读取权限缓存失败", zap.String("user_id", userID), zap.Error(err))
		ok = false
	}
	if ok && cached.Permissions == nil {
		cached.Permissions = []string{}
	}
	if ok && !forceRefresh && cached.Fresh(c.clock.Now()) {
		return cached.Permissions
	}

	permissions, found, err := c.fetch(ctx, userID)
	if err != nil {
		c.logger.Error("获取用户权限失败", zap.String("user_id", userID), zap.Error(err))
		if ok {
			c.logger.Info("使用缓存中的旧权限", zap.String("user_id", userID))
			return cached.Permissions
		}
		return []string{}
	}
	if !found || permissions == nil {
		permissions = []string{}
	}

	entry := Entry{Permissions: permissions, ExpireAt: c.clock.Now().Add(c.ttl)}
	if err := c.store.Set(ctx, key, entry); err != nil {
		c.logger.Warn("写入权限缓存失败", zap.String("user_id", userID), zap.Error(err))
	}
	return permissions
}

// Clear 清空缓存
func (c *PermissionCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}
