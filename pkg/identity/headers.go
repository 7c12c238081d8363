package identity

import (
	"net/http"
	"strings"
)

// 身份相关的请求头
const (
	HeaderAuthorization      = "Authorization"
	HeaderUserID             = "X-User-Id"
	HeaderUserName           = "X-User-Name"
	HeaderUserFullName       = "X-User-Full-Name"
	HeaderServiceRoles       = "X-User-Service-Roles"
	HeaderServicePermissions = "X-User-Service-Permissions"
	HeaderUserAdmin          = "X-User-Admin"
	HeaderInternalAuth       = "X-Internal-Auth"
)

// gatewayHeaders 网关注入的请求头，会记录到Identity.RawHeaders中
var gatewayHeaders = []string{
	HeaderUserID,
	HeaderUserName,
	HeaderUserFullName,
	HeaderServiceRoles,
	HeaderServicePermissions,
	HeaderUserAdmin,
}

// Headers 身份提取所需的最小请求头接口，http.Header已经满足该接口
type Headers interface {
	Get(name string) string
}

var _ Headers = http.Header(nil)

// MapHeaders 以普通map表示的请求头，查找时忽略大小写
type MapHeaders map[string]string

// Get 返回指定请求头的值
func (m MapHeaders) Get(name string) string {
	if v, ok := m[name]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// splitList 解析逗号分隔的列表，忽略空项
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}
