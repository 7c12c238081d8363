package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hewenyu/kong-auth-connector/pkg/authclient"
	"github.com/hewenyu/kong-auth-connector/pkg/authz"
	"github.com/hewenyu/kong-auth-connector/pkg/config"
	"github.com/hewenyu/kong-auth-connector/pkg/discovery"
	"github.com/hewenyu/kong-auth-connector/pkg/identity"
	"github.com/hewenyu/kong-auth-connector/pkg/permissions"
)

var serverModule = fx.Module("server",
	fx.Provide(
		newAuthClient,
		newPermissionRegistry,
		newEcho,
	),
	fx.Invoke(registerRoutes, startServer, syncPermissions),
)

func newAuthClient(lc fx.Lifecycle, cfg *config.Config, logger config.Logger) (*authclient.Client, error) {
	client, err := authclient.NewClientFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newPermissionRegistry(cfg *config.Config) (*permissions.Registry, error) {
	reg := permissions.NewRegistry(cfg.Service.Key)
	if err := reg.RegisterAll("invoices", permissions.CRUDPermissions("invoices")); err != nil {
		return nil, err
	}
	if err := reg.RegisterAll("admin", permissions.AdminPermissions(cfg.Service.Key)); err != nil {
		return nil, err
	}
	return reg, nil
}

func newEcho(cfg *config.Config, logger config.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(authz.EchoExtract(identity.NewExtractorFromConfig(cfg.JWT), logger))
	return e
}

type invoice struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
}

func registerRoutes(e *echo.Echo, cfg *config.Config, logger config.Logger, client *authclient.Client, reg *permissions.Registry, m *discovery.Manager) {
	e.GET(cfg.Service.HealthCheckPath, func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"service":     cfg.Service.Key,
			"registered":  m.IsRegistered(),
			"registry":    m.State().String(),
			"timestamp":   time.Now().Format(time.RFC3339),
			"auth_online": client.HealthCheck(c.Request().Context()),
		})
	})

	e.GET("/permissions", func(c echo.Context) error {
		return c.JSON(http.StatusOK, reg.ToManifest())
	})

	api := e.Group("/api")

	api.GET("/me", func(c echo.Context) error {
		user := authz.CurrentUser(c)
		resp := user.ToMap()
		resp["service_permissions"] = client.GetUserPermissions(c.Request().Context(), user.UserID(), false)
		return c.JSON(http.StatusOK, resp)
	}, authz.EchoRequire(authz.Authenticated(), logger))

	api.GET("/invoices", func(c echo.Context) error {
		return c.JSON(http.StatusOK, []invoice{{ID: "inv-1", Amount: 120.5}})
	}, authz.EchoRequire(authz.Permission("invoices.view"), logger))

	api.POST("/invoices", func(c echo.Context) error {
		var in invoice
		if err := c.Bind(&in); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		in.ID = uuid.NewString()
		return c.JSON(http.StatusCreated, in)
	}, authz.EchoRequire(authz.AnyPermission("invoices.create", "invoices.edit"), logger))

	api.GET("/admin/settings", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"heartbeat": m.HeartbeatRunning()})
	}, authz.EchoRequire(authz.Role("admin"), logger))
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger config.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.ListenAddress, cfg.HTTP.Port)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("HTTP服务启动", zap.String("addr", addr))
			go func() {
				if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
					logger.Error("HTTP服务异常退出", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}

// syncPermissions 启动后在后台把权限清单推送到auth-service
func syncPermissions(lc fx.Lifecycle, client *authclient.Client, reg *permissions.Registry, logger config.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := reg.Sync(ctx, client); err != nil {
					logger.Warn("权限同步失败，服务继续运行", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
