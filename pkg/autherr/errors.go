package autherr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code 错误代码，同时作为对外返回的 code 字段
type Code string

// 定义错误代码
const (
	// CodeAuthRequired 缺少用户身份
	CodeAuthRequired Code = "AUTH_REQUIRED"
	// CodePermissionDenied 缺少所需权限
	CodePermissionDenied Code = "PERMISSION_DENIED"
	// CodeRoleDenied 缺少所需角色
	CodeRoleDenied Code = "ROLE_DENIED"
	// CodeInvalidToken 令牌无效或已过期
	CodeInvalidToken Code = "INVALID_TOKEN"
	// CodeServiceUnavailable auth-service 不可达
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	// CodeTransport 注册中心或 auth-service 传输失败
	CodeTransport Code = "TRANSPORT_FAILURE"
	// CodeConfiguration 配置错误
	CodeConfiguration Code = "CONFIGURATION_ERROR"
)

// Error 连接器统一错误类型
type Error struct {
	Code    Code
	Message string
	// Required 被拒绝时所需的权限或角色，仅用于诊断
	Required []string
	Cause    error
}

// Error 实现error接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus 返回该错误对应的HTTP状态码
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeAuthRequired, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodePermissionDenied, CodeRoleDenied:
		return http.StatusForbidden
	case CodeServiceUnavailable, CodeTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAuthRequiredError 创建缺少身份错误
func NewAuthRequiredError() *Error {
	return &Error{
		Code:    CodeAuthRequired,
		Message: "Authentication required",
	}
}

// NewPermissionDeniedError 创建单个权限被拒绝错误
func NewPermissionDeniedError(permission string) *Error {
	return &Error{
		Code:     CodePermissionDenied,
		Message:  "Permission denied: " + permission,
		Required: []string{permission},
	}
}

// NewAnyPermissionDeniedError 创建"任一权限"被拒绝错误
func NewAnyPermissionDeniedError(permissions []string) *Error {
	return &Error{
		Code:     CodePermissionDenied,
		Message:  "Permission denied. Required one of: " + joinComma(permissions),
		Required: append([]string(nil), permissions...),
	}
}

// NewAllPermissionsDeniedError 创建"全部权限"被拒绝错误
func NewAllPermissionsDeniedError(permissions []string) *Error {
	return &Error{
		Code:     CodePermissionDenied,
		Message:  "Permission denied. Required all of: " + joinComma(permissions),
		Required: append([]string(nil), permissions...),
	}
}

// NewRoleDeniedError 创建角色被拒绝错误
func NewRoleDeniedError(role string) *Error {
	return &Error{
		Code:     CodeRoleDenied,
		Message:  "Role denied: " + role,
		Required: []string{role},
	}
}

// NewInvalidTokenError 创建令牌无效错误
func NewInvalidTokenError(message string, cause error) *Error {
	return &Error{
		Code:    CodeInvalidToken,
		Message: message,
		Cause:   cause,
	}
}

// NewServiceUnavailableError 创建auth-service不可达错误
func NewServiceUnavailableError(cause error) *Error {
	return &Error{
		Code:    CodeServiceUnavailable,
		Message: "auth-service不可用",
		Cause:   cause,
	}
}

// NewTransportError 创建传输失败错误
func NewTransportError(message string, cause error) *Error {
	return &Error{
		Code:    CodeTransport,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigurationError 创建配置错误
func NewConfigurationError(message string) *Error {
	return &Error{
		Code:    CodeConfiguration,
		Message: message,
	}
}

// CodeOf 返回err链中第一个*Error的代码，不存在时返回空字符串
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsInvalidToken 判断是否为令牌无效错误
func IsInvalidToken(err error) bool {
	return CodeOf(err) == CodeInvalidToken
}

// IsConfiguration 判断是否为配置错误
func IsConfiguration(err error) bool {
	return CodeOf(err) == CodeConfiguration
}

// IsTransport 判断是否为传输失败错误
func IsTransport(err error) bool {
	code := CodeOf(err)
	return code == CodeTransport || code == CodeServiceUnavailable
}

func joinComma(items []string) string {
	return strings.Join(items, ", ")
}
