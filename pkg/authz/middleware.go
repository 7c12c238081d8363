package authz

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
	"github.com/hewenyu/kong-auth-connector/pkg/config"
	"github.com/hewenyu/kong-auth-connector/pkg/identity"
)

// Rejection 认证或授权失败时返回给调用方的响应体
type Rejection struct {
	Error               string   `json:"error"`
	Code                string   `json:"code"`
	RequiredPermission  string   `json:"required_permission,omitempty"`
	RequiredPermissions []string `json:"required_permissions,omitempty"`
	RequiredRole        string   `json:"required_role,omitempty"`
}

// NewRejection 根据错误和要求构造响应体，返回对应的HTTP状态码
func NewRejection(err error, req Requirement) (int, Rejection) {
	var authErr *autherr.Error
	if !errors.As(err, &authErr) {
		return http.StatusInternalServerError, Rejection{
			Error: "Internal server error",
			Code:  "INTERNAL_ERROR",
		}
	}

	rej := Rejection{
		Error: authErr.Message,
		Code:  string(authErr.Code),
	}
	if authErr.Code == autherr.CodePermissionDenied || authErr.Code == autherr.CodeRoleDenied {
		switch req.kind {
		case kindPermission:
			if len(req.permissions) > 0 {
				rej.RequiredPermission = req.permissions[0]
			}
		case kindAnyPermission, kindAllPermissions:
			rej.RequiredPermissions = req.permissions
		case kindRole:
			rej.RequiredRole = req.role
		}
	}
	return authErr.HTTPStatus(), rej
}

// ExtractOption 身份提取中间件选项
type ExtractOption func(*extractOptions)

type extractOptions struct {
	rejectInvalidToken bool
}

// RejectInvalidToken 令牌无效时直接返回401，默认按未识别身份继续处理
func RejectInvalidToken() ExtractOption {
	return func(o *extractOptions) {
		o.rejectInvalidToken = true
	}
}

// Extract 从请求头提取身份并放入请求上下文
func Extract(extractor *identity.Extractor, logger config.Logger, opts ...ExtractOption) func(http.Handler) http.Handler {
	var o extractOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := extractor.Extract(r.Header)
			if err != nil {
				logger.Warn("提取用户身份失败", zap.String("path", r.URL.Path), zap.Error(err))
				if o.rejectInvalidToken {
					status, rej := NewRejection(err, Authenticated())
					writeJSON(w, status, rej)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if id != nil {
				r = r.WithContext(identity.NewContext(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require 包装处理器，只有满足要求的请求才会被转发
func Require(req Requirement, logger config.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := Check(identity.FromContext(r.Context()), req); err != nil {
				logger.Debug("请求被拒绝", zap.String("path", r.URL.Path), zap.Error(err))
				status, rej := NewRejection(err, req)
				writeJSON(w, status, rej)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
