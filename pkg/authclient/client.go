package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
	"github.com/hewenyu/kong-auth-connector/pkg/clock"
	"github.com/hewenyu/kong-auth-connector/pkg/config"
	"github.com/hewenyu/kong-auth-connector/pkg/permissions"
)

// DefaultTimeout 每次请求auth-service的超时时间
const DefaultTimeout = 10 * time.Second

// 响应体读取上限
const maxResponseBody = 1 << 20

// Document 用户文档，结构由auth-service决定
type Document map[string]interface{}

// UserInfo 令牌校验返回的用户信息
type UserInfo map[string]interface{}

// Client auth-service客户端
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	timeout    time.Duration
	logger     config.Logger
	cache      *PermissionCache

	store    Store
	cacheTTL time.Duration
	clock    clock.Clock
	// rdb 由NewClientFromConfig创建，Close时关闭
	rdb *redis.Client
}

// Option Client可选项
type Option func(*Client)

// WithHTTPClient 使用自定义的http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout 设置单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithStore 使用指定的缓存后端
func WithStore(s Store) Option {
	return func(cl *Client) {
		cl.store = s
	}
}

// WithCacheTTL 设置权限缓存有效期
func WithCacheTTL(d time.Duration) Option {
	return func(cl *Client) {
		cl.cacheTTL = d
	}
}

// WithClock 使用自定义时钟
func WithClock(c clock.Clock) Option {
	return func(cl *Client) {
		cl.clock = c
	}
}

// NewClient 创建auth-service客户端
func NewClient(baseURL, serviceKey string, logger config.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, autherr.NewConfigurationError("auth-service地址不能为空")
	}
	if serviceKey == "" {
		return nil, autherr.NewConfigurationError("服务key不能为空")
	}
	if logger == nil {
		logger = config.NewNopLogger()
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     logger,
		cacheTTL:   DefaultCacheTTL,
		clock:      clock.System,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cache = NewPermissionCache(serviceKey, c.store, c.fetchPermissions, c.cacheTTL, c.clock, logger)
	return c, nil
}

// NewClientFromConfig 按配置创建客户端，配置了redis地址时使用redis缓存
func NewClientFromConfig(cfg *config.Config, logger config.Logger) (*Client, error) {
	opts := []Option{
		WithTimeout(cfg.AuthService.Timeout),
		WithCacheTTL(cfg.Cache.TTL),
	}

	var rdb *redis.Client
	if cfg.Cache.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
			DB:   cfg.Cache.RedisDB,
		})
		opts = append(opts, WithStore(NewRedisStore(rdb, cfg.Cache.RedisPrefix, 0)))
	}

	c, err := NewClient(cfg.AuthService.URL, cfg.Service.Key, logger, opts...)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}
	c.rdb = rdb
	return c, nil
}

// Close 释放客户端持有的redis连接
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// ServiceKey 返回所属服务
func (c *Client) ServiceKey() string {
	return c.serviceKey
}

// GetUserPermissions 获取用户在本服务的权限，结果会被缓存
func (c *Client) GetUserPermissions(ctx context.Context, userID string, forceRefresh bool) []string {
	return c.cache.Get(ctx, userID, forceRefresh)
}

func (c *Client) fetchPermissions(ctx context.Context, userID string) ([]string, bool, error) {
	endpoint := fmt.Sprintf("%s/api/users/%s/permissions/%s",
		c.baseURL, url.PathEscape(userID), url.PathEscape(c.serviceKey))

	var resp struct {
		Permissions []string `json:"permissions"`
	}
	status, err := c.doJSON(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	return resp.Permissions, true, nil
}

// GetUserDocument 获取用户文档，docType为空时不过滤。文档不存在时返回(nil, nil)
func (c *Client) GetUserDocument(ctx context.Context, userID, docType string) (Document, error) {
	endpoint := fmt.Sprintf("%s/api/users/%s/documents", c.baseURL, url.PathEscape(userID))
	if docType != "" {
		endpoint += "?" + url.Values{"type": []string{docType}}.Encode()
	}

	var doc Document
	status, err := c.doJSON(ctx, http.MethodGet, endpoint, nil, nil, &doc)
	if err != nil {
		c.logger.Error("获取用户文档失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return doc, nil
}

// ValidateToken 由auth-service校验令牌。令牌无效返回InvalidToken，服务不可达返回ServiceUnavailable
func (c *Client) ValidateToken(ctx context.Context, token string) (UserInfo, error) {
	headers := map[string]string{"Authorization": "Bearer " + token}

	var info UserInfo
	status, err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/validate-token", headers, nil, &info)
	if status == http.StatusUnauthorized {
		return nil, autherr.NewInvalidTokenError("Token is invalid or expired", nil)
	}
	if err != nil {
		c.logger.Error("校验令牌失败", zap.Error(err))
		return nil, autherr.NewServiceUnavailableError(err)
	}
	return info, nil
}

// SyncPermissions 把服务声明的权限同步到auth-service
func (c *Client) SyncPermissions(ctx context.Context, perms []permissions.Permission) error {
	endpoint := fmt.Sprintf("%s/api/services/%s/permissions/sync", c.baseURL, url.PathEscape(c.serviceKey))
	payload := struct {
		ServiceKey  string                   `json:"service_key"`
		Permissions []permissions.Permission `json:"permissions"`
	}{c.serviceKey, perms}

	status, err := c.doJSON(ctx, http.MethodPost, endpoint, nil, payload, nil)
	if err == nil && status == http.StatusNotFound {
		err = autherr.NewTransportError("同步权限失败，状态码: 404", nil)
	}
	if err != nil {
		c.logger.Error("同步权限失败", zap.String("service_key", c.serviceKey), zap.Error(err))
		return err
	}

	c.logger.Info("权限同步成功",
		zap.String("service_key", c.serviceKey),
		zap.Int("count", len(perms)))
	return nil
}

var _ permissions.Syncer = (*Client)(nil)

// HealthCheck 检查auth-service是否可用
func (c *Client) HealthCheck(ctx context.Context) bool {
	status, err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/health", nil, nil, nil)
	return err == nil && status == http.StatusOK
}

// ClearCache 清空权限缓存
func (c *Client) ClearCache(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

// doJSON 发送请求并解析JSON响应。404不视为错误，由调用方处理；
// 其他非2xx状态码返回TransportError
func (c *Client) doJSON(ctx context.Context, method, endpoint string, headers map[string]string, body, out interface{}) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, autherr.NewTransportError("请求auth-service失败", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, autherr.NewTransportError("读取auth-service响应失败", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, autherr.NewTransportError(
			fmt.Sprintf("auth-service返回错误，状态码: %d, 响应: %s", resp.StatusCode, truncate(data, 512)), nil)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, autherr.NewTransportError("解析auth-service响应失败", err)
		}
	}
	return resp.StatusCode, nil
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}
