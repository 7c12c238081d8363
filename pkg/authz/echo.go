package authz

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/kong-auth-connector/pkg/config"
	"github.com/hewenyu/kong-auth-connector/pkg/identity"
)

// EchoExtract echo版本的身份提取中间件
func EchoExtract(extractor *identity.Extractor, logger config.Logger, opts ...ExtractOption) echo.MiddlewareFunc {
	var o extractOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id, err := extractor.Extract(req.Header)
			if err != nil {
				logger.Warn("提取用户身份失败", zap.String("path", req.URL.Path), zap.Error(err))
				if o.rejectInvalidToken {
					status, rej := NewRejection(err, Authenticated())
					return c.JSON(status, rej)
				}
				return next(c)
			}
			if id != nil {
				c.SetRequest(req.WithContext(identity.NewContext(req.Context(), id)))
			}
			return next(c)
		}
	}
}

// EchoRequire echo版本的权限校验中间件
func EchoRequire(req Requirement, logger config.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := Check(CurrentUser(c), req); err != nil {
				logger.Debug("请求被拒绝", zap.String("path", c.Path()), zap.Error(err))
				status, rej := NewRejection(err, req)
				return c.JSON(status, rej)
			}
			return next(c)
		}
	}
}

// CurrentUser 返回echo请求上下文中的身份
func CurrentUser(c echo.Context) *identity.Identity {
	return identity.FromContext(c.Request().Context())
}
