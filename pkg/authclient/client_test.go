package authclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
	"github.com/hewenyu/kong-auth-connector/pkg/clock"
	"github.com/hewenyu/kong-auth-connector/pkg/config"
	"github.com/hewenyu/kong-auth-connector/pkg/permissions"
)

// fakeAuthService 模拟auth-service
type fakeAuthService struct {
	permissionCalls int32
	synced          atomic.Value
	unavailable     atomic.Bool
}

func (f *fakeAuthService) server(t *testing.T) *httptest.Server {
	t.Helper()

	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if f.unavailable.Load() {
				return c.String(http.StatusServiceUnavailable, "maintenance")
			}
			return next(c)
		}
	})

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/api/users/:user_id/permissions/:service_key", func(c echo.Context) error {
		atomic.AddInt32(&f.permissionCalls, 1)
		if c.Param("user_id") == "ghost" {
			return c.NoContent(http.StatusNotFound)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"permissions": []string{c.Param("service_key") + ".view"},
		})
	})
	e.GET("/api/users/:user_id/documents", func(c echo.Context) error {
		if c.Param("user_id") == "ghost" {
			return c.NoContent(http.StatusNotFound)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"user_id": c.Param("user_id"),
			"type":    c.QueryParam("type"),
		})
	})
	e.POST("/api/validate-token", func(c echo.Context) error {
		if c.Request().Header.Get("Authorization") != "Bearer good-token" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid"})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"user_id": "u-1", "username": "alice"})
	})
	e.POST("/api/services/:service_key/permissions/sync", func(c echo.Context) error {
		var req struct {
			ServiceKey  string                   `json:"service_key"`
			Permissions []permissions.Permission `json:"permissions"`
		}
		if err := c.Bind(&req); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		f.synced.Store(req.Permissions)
		return c.JSON(http.StatusOK, map[string]bool{"success": true})
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(baseURL, "billing", config.NewNopLogger(), opts...)
	require.NoError(t, err)
	return c
}

func closedURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", "billing", nil)
	assert.True(t, autherr.IsConfiguration(err))

	_, err = NewClient("http://auth", "", nil)
	assert.True(t, autherr.IsConfiguration(err))
}

func TestClient_GetUserPermissions(t *testing.T) {
	fake := &fakeAuthService{}
	srv := fake.server(t)
	mock := clock.NewMock()
	c := newTestClient(t, srv.URL+"/", WithClock(mock))
	ctx := context.Background()

	assert.Equal(t, []string{"billing.view"}, c.GetUserPermissions(ctx, "u-1", false))
	assert.Equal(t, []string{"billing.view"}, c.GetUserPermissions(ctx, "u-1", false))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.permissionCalls))

	mock.Add(DefaultCacheTTL)
	c.GetUserPermissions(ctx, "u-1", false)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.permissionCalls))

	assert.Empty(t, c.GetUserPermissions(ctx, "ghost", false))

	// auth-service故障时回退到旧值
	fake.unavailable.Store(true)
	assert.Equal(t, []string{"billing.view"}, c.GetUserPermissions(ctx, "u-1", true))
	assert.Empty(t, c.GetUserPermissions(ctx, "u-2", false))

	require.NoError(t, c.ClearCache(ctx))
	assert.Empty(t, c.GetUserPermissions(ctx, "u-1", false))
}

func TestClient_GetUserDocument(t *testing.T) {
	srv := (&fakeAuthService{}).server(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	doc, err := c.GetUserDocument(ctx, "u-1", "passport")
	require.NoError(t, err)
	assert.Equal(t, "u-1", doc["user_id"])
	assert.Equal(t, "passport", doc["type"])

	doc, err = c.GetUserDocument(ctx, "ghost", "")
	assert.NoError(t, err)
	assert.Nil(t, doc)

	down := newTestClient(t, closedURL(t))
	_, err = down.GetUserDocument(ctx, "u-1", "")
	assert.True(t, autherr.IsTransport(err))
}

func TestClient_ValidateToken(t *testing.T) {
	srv := (&fakeAuthService{}).server(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	info, err := c.ValidateToken(ctx, "good-token")
	require.NoError(t, err)
	assert.Equal(t, "alice", info["username"])

	_, err = c.ValidateToken(ctx, "bad-token")
	assert.True(t, autherr.IsInvalidToken(err))

	down := newTestClient(t, closedURL(t), WithTimeout(time.Second))
	_, err = down.ValidateToken(ctx, "good-token")
	assert.Equal(t, autherr.CodeServiceUnavailable, autherr.CodeOf(err))
}

func TestClient_SyncPermissions(t *testing.T) {
	fake := &fakeAuthService{}
	srv := fake.server(t)
	c := newTestClient(t, srv.URL)

	reg := permissions.NewRegistry("billing")
	require.NoError(t, reg.RegisterAll("invoices", permissions.CRUDPermissions("invoices")))

	require.NoError(t, reg.Sync(context.Background(), c))
	synced := fake.synced.Load().([]permissions.Permission)
	require.Len(t, synced, 4)
	assert.Equal(t, "invoices.view", synced[0].Name)
	assert.Equal(t, "invoices", synced[0].Category)

	fake.unavailable.Store(true)
	err := c.SyncPermissions(context.Background(), reg.All())
	assert.True(t, autherr.IsTransport(err))
}

func TestClient_HealthCheck(t *testing.T) {
	fake := &fakeAuthService{}
	srv := fake.server(t)
	c := newTestClient(t, srv.URL)

	assert.True(t, c.HealthCheck(context.Background()))

	fake.unavailable.Store(true)
	assert.False(t, c.HealthCheck(context.Background()))

	assert.False(t, newTestClient(t, closedURL(t)).HealthCheck(context.Background()))
}

func TestNewClientFromConfig(t *testing.T) {
	cfg := &config.Config{
		Service:     config.ServiceConfig{Key: "billing"},
		AuthService: config.AuthServiceConfig{URL: "http://auth-service:8080", Timeout: 3 * time.Second},
		Cache:       config.CacheConfig{TTL: time.Minute},
	}

	c, err := NewClientFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "billing", c.ServiceKey())
	assert.Equal(t, 3*time.Second, c.timeout)
	assert.NoError(t, c.Close())

	_, rdb := newTestRedis(t)
	cfg.Cache.RedisAddr = rdb.Options().Addr
	c, err = NewClientFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, c.store)
	assert.NoError(t, c.Close())
}
