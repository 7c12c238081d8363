package authz

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
	"github.com/hewenyu/kong-auth-connector/pkg/identity"
)

// MockLogger 实现config.Logger接口，用于测试
type MockLogger struct{}

func (l *MockLogger) Debug(msg string, fields ...zapcore.Field) {}
func (l *MockLogger) Info(msg string, fields ...zapcore.Field)  {}
func (l *MockLogger) Warn(msg string, fields ...zapcore.Field)  {}
func (l *MockLogger) Error(msg string, fields ...zapcore.Field) {}
func (l *MockLogger) Fatal(msg string, fields ...zapcore.Field) {}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(id.UserID()))
	})
}

// chain 组装提取与校验两个中间件
func chain(req Requirement, opts ...ExtractOption) http.Handler {
	extractor := identity.NewExtractor("", false)
	logger := &MockLogger{}
	return Extract(extractor, logger, opts...)(Require(req, logger)(okHandler()))
}

func serve(h http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/billing", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeRejection(t *testing.T, rec *httptest.ResponseRecorder) Rejection {
	t.Helper()
	var rej Rejection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rej))
	return rej
}

func TestRequire_AuthRequired(t *testing.T) {
	rec := serve(chain(Permission("billing.view")), nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	rej := decodeRejection(t, rec)
	assert.Equal(t, "AUTH_REQUIRED", rej.Code)
	assert.Equal(t, "Authentication required", rej.Error)
}

func TestRequire_AdminBypass(t *testing.T) {
	headers := map[string]string{
		identity.HeaderUserID:             "u-1",
		identity.HeaderUserName:           "root",
		identity.HeaderServiceRoles:       "admin",
		identity.HeaderServicePermissions: "",
		identity.HeaderUserAdmin:          "true",
	}

	rec := serve(chain(Permission("billing.view")), headers)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())

	// 关闭管理员豁免后被拒绝
	rec = serve(chain(Permission("billing.view").WithoutAdminBypass()), headers)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequire_PermissionDenied(t *testing.T) {
	headers := map[string]string{
		identity.HeaderUserID:             "u-2",
		identity.HeaderUserName:           "alice",
		identity.HeaderServicePermissions: "billing.view",
	}

	rec := serve(chain(Permission("billing.edit")), headers)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rej := decodeRejection(t, rec)
	assert.Equal(t, "PERMISSION_DENIED", rej.Code)
	assert.Equal(t, "Permission denied: billing.edit", rej.Error)
	assert.Equal(t, "billing.edit", rej.RequiredPermission)

	rec = serve(chain(Permission("billing.view")), headers)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequire_AnyAndAllPermissions(t *testing.T) {
	headers := map[string]string{
		identity.HeaderUserID:             "u-3",
		identity.HeaderUserName:           "bob",
		identity.HeaderServicePermissions: "orders.read, orders.write",
	}

	rec := serve(chain(AnyPermission("orders.delete", "orders.read")), headers)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(chain(AnyPermission("orders.delete", "orders.admin")), headers)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rej := decodeRejection(t, rec)
	assert.Equal(t, "Permission denied. Required one of: orders.delete, orders.admin", rej.Error)
	assert.Equal(t, []string{"orders.delete", "orders.admin"}, rej.RequiredPermissions)

	rec = serve(chain(AllPermissions("orders.read", "orders.write")), headers)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(chain(AllPermissions("orders.read", "orders.delete")), headers)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequire_Role(t *testing.T) {
	headers := map[string]string{
		identity.HeaderUserID:       "u-4",
		identity.HeaderUserName:     "carol",
		identity.HeaderServiceRoles: "viewer",
	}

	rec := serve(chain(Role("editor")), headers)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rej := decodeRejection(t, rec)
	assert.Equal(t, "ROLE_DENIED", rej.Code)
	assert.Equal(t, "editor", rej.RequiredRole)

	rec = serve(chain(Role("viewer")), headers)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtract_InvalidToken(t *testing.T) {
	headers := map[string]string{identity.HeaderInternalAuth: "%%%"}

	// 默认按未识别身份处理
	rec := serve(chain(Authenticated()), headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_REQUIRED", decodeRejection(t, rec).Code)

	rec = serve(chain(Authenticated(), RejectInvalidToken()), headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", decodeRejection(t, rec).Code)
}

func TestCheck(t *testing.T) {
	id := identity.New(identity.Options{UserID: "u-5", Permissions: []string{"a"}})

	assert.NoError(t, Check(id, Authenticated()))
	assert.NoError(t, Check(id, Permission("a")))
	assert.Equal(t, autherr.CodePermissionDenied, autherr.CodeOf(Check(id, Permission("b"))))
	assert.Equal(t, autherr.CodeAuthRequired, autherr.CodeOf(Check(nil, Authenticated())))
}

func TestCheck_ZeroRequirementDenies(t *testing.T) {
	user := identity.New(identity.Options{UserID: "u-6", Permissions: []string{"a"}})
	admin := identity.New(identity.Options{UserID: "u-7", Admin: true})

	assert.NotPanics(t, func() {
		assert.Equal(t, autherr.CodePermissionDenied, autherr.CodeOf(Check(user, Requirement{})))
		assert.Equal(t, autherr.CodePermissionDenied, autherr.CodeOf(Check(admin, Requirement{})))
	})

	rec := serve(chain(Requirement{}), map[string]string{
		identity.HeaderUserID:   "u-6",
		identity.HeaderUserName: "bob",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "PERMISSION_DENIED", decodeRejection(t, rec).Code)
}

func TestNewRejection_UnknownError(t *testing.T) {
	status, rej := NewRejection(assert.AnError, Permission("a"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", rej.Code)
}

func TestEchoMiddleware(t *testing.T) {
	e := echo.New()
	logger := &MockLogger{}
	e.Use(EchoExtract(identity.NewExtractor("", false), logger))
	e.GET("/invoices", func(c echo.Context) error {
		return c.JSON(http.StatusOK, CurrentUser(c).ToMap())
	}, EchoRequire(Permission("invoices.read"), logger))

	token, err := identity.EncodeInternalToken(identity.Claims{
		UserID:      "svc-report",
		Username:    "report",
		Permissions: []string{"invoices.read"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	req.Header.Set(identity.HeaderInternalAuth, token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "svc-report", body["user_id"])

	// 没有身份
	req = httptest.NewRequest(http.MethodGet, "/invoices", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// 权限不足
	req = httptest.NewRequest(http.MethodGet, "/invoices", nil)
	req.Header.Set(identity.HeaderUserID, "u-9")
	req.Header.Set(identity.HeaderUserName, base64.StdEncoding.EncodeToString([]byte("dave")))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var rej Rejection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rej))
	assert.Equal(t, "invoices.read", rej.RequiredPermission)
}
