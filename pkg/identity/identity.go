package identity

import (
	"sort"
)

// Identity 单个请求的调用者身份，创建后不再修改
type Identity struct {
	userID      string
	username    string
	displayName string
	roles       map[string]struct{}
	permissions map[string]struct{}
	admin       bool
	rawHeaders  map[string]string
}

// Options 构造Identity的参数
type Options struct {
	UserID      string
	Username    string
	DisplayName string // 为空时使用Username
	Roles       []string
	Permissions []string
	Admin       bool
	RawHeaders  map[string]string
}

// New 创建身份信息，重复的角色和权限会被合并
func New(opts Options) *Identity {
	displayName := opts.DisplayName
	if displayName == "" {
		displayName = opts.Username
	}

	raw := make(map[string]string, len(opts.RawHeaders))
	for k, v := range opts.RawHeaders {
		raw[k] = v
	}

	return &Identity{
		userID:      opts.UserID,
		username:    opts.Username,
		displayName: displayName,
		roles:       toSet(opts.Roles),
		permissions: toSet(opts.Permissions),
		admin:       opts.Admin,
		rawHeaders:  raw,
	}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item != "" {
			set[item] = struct{}{}
		}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UserID 用户ID
func (i *Identity) UserID() string { return i.userID }

// Username 用户名
func (i *Identity) Username() string { return i.username }

// DisplayName 显示名
func (i *Identity) DisplayName() string { return i.displayName }

// IsAdmin 是否为管理员
func (i *Identity) IsAdmin() bool { return i.admin }

// Roles 返回排序后的角色列表
func (i *Identity) Roles() []string { return sortedKeys(i.roles) }

// Permissions 返回排序后的权限列表
func (i *Identity) Permissions() []string { return sortedKeys(i.permissions) }

// RawHeaders 返回提取身份时使用的原始请求头副本
func (i *Identity) RawHeaders() map[string]string {
	raw := make(map[string]string, len(i.rawHeaders))
	for k, v := range i.rawHeaders {
		raw[k] = v
	}
	return raw
}

// HasPermission 检查是否拥有指定权限
func (i *Identity) HasPermission(permission string) bool {
	_, ok := i.permissions[permission]
	return ok
}

// HasAnyPermission 检查是否拥有任一权限
func (i *Identity) HasAnyPermission(permissions ...string) bool {
	for _, p := range permissions {
		if i.HasPermission(p) {
			return true
		}
	}
	return false
}

// HasAllPermissions 检查是否拥有全部权限
func (i *Identity) HasAllPermissions(permissions ...string) bool {
	for _, p := range permissions {
		if !i.HasPermission(p) {
			return false
		}
	}
	return true
}

// HasRole 检查是否拥有指定角色
func (i *Identity) HasRole(role string) bool {
	_, ok := i.roles[role]
	return ok
}

// ToMap 转换为可序列化的map
func (i *Identity) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     i.userID,
		"username":    i.username,
		"full_name":   i.displayName,
		"roles":       i.Roles(),
		"permissions": i.Permissions(),
		"is_admin":    i.admin,
	}
}
