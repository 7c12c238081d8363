package authz

import (
	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
	"github.com/hewenyu/kong-auth-connector/pkg/identity"
)

type requirementKind int

const (
	// kindInvalid 零值Requirement，总是拒绝
	kindInvalid requirementKind = iota
	kindPermission
	kindAnyPermission
	kindAllPermissions
	kindRole
	kindAuthenticated
)

// Requirement 访问处理器需要满足的条件
type Requirement struct {
	kind        requirementKind
	permissions []string
	role        string
	allowAdmin  bool
}

// Permission 要求拥有指定权限
func Permission(permission string) Requirement {
	return Requirement{kind: kindPermission, permissions: []string{permission}, allowAdmin: true}
}

// AnyPermission 要求拥有任一权限
func AnyPermission(permissions ...string) Requirement {
	return Requirement{kind: kindAnyPermission, permissions: permissions, allowAdmin: true}
}

// AllPermissions 要求拥有全部权限
func AllPermissions(permissions ...string) Requirement {
	return Requirement{kind: kindAllPermissions, permissions: permissions, allowAdmin: true}
}

// Role 要求拥有指定角色
func Role(role string) Requirement {
	return Requirement{kind: kindRole, role: role, allowAdmin: true}
}

// Authenticated 只要求已识别身份
func Authenticated() Requirement {
	return Requirement{kind: kindAuthenticated, allowAdmin: true}
}

// WithoutAdminBypass 管理员也必须满足条件
func (r Requirement) WithoutAdminBypass() Requirement {
	r.allowAdmin = false
	return r
}

// Check 校验身份是否满足要求。未识别身份返回AuthRequired，条件不满足返回PermissionDenied或RoleDenied
func Check(id *identity.Identity, req Requirement) error {
	if id == nil {
		return autherr.NewAuthRequiredError()
	}
	if req.allowAdmin && id.IsAdmin() {
		return nil
	}

	switch req.kind {
	case kindPermission:
		if len(req.permissions) == 0 {
			return autherr.NewAllPermissionsDeniedError(nil)
		}
		if !id.HasPermission(req.permissions[0]) {
			return autherr.NewPermissionDeniedError(req.permissions[0])
		}
	case kindAnyPermission:
		if !id.HasAnyPermission(req.permissions...) {
			return autherr.NewAnyPermissionDeniedError(req.permissions)
		}
	case kindAllPermissions:
		if !id.HasAllPermissions(req.permissions...) {
			return autherr.NewAllPermissionsDeniedError(req.permissions)
		}
	case kindRole:
		if !id.HasRole(req.role) {
			return autherr.NewRoleDeniedError(req.role)
		}
	case kindAuthenticated:
	default:
		return autherr.NewAllPermissionsDeniedError(req.permissions)
	}
	return nil
}
