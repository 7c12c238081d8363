package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
)

// Permission 服务声明的一个权限
type Permission struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// Syncer 把权限定义推送到auth-service
type Syncer interface {
	SyncPermissions(ctx context.Context, permissions []Permission) error
}

// Registry 服务的权限清单，按注册顺序保存
type Registry struct {
	serviceKey string

	mu          sync.RWMutex
	order       []string
	permissions map[string]Permission
	categories  []string
	byCategory  map[string][]string
}

// NewRegistry 创建权限清单
func NewRegistry(serviceKey string) *Registry {
	return &Registry{
		serviceKey:  serviceKey,
		permissions: make(map[string]Permission),
		byCategory:  make(map[string][]string),
	}
}

// ServiceKey 返回所属服务
func (r *Registry) ServiceKey() string {
	return r.serviceKey
}

// Register 注册权限，同名权限会被覆盖但保持原有顺序
func (r *Registry) Register(name, displayName, description, category string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, autherr.NewConfigurationError("权限名称不能为空")
	}

	p := Permission{
		Name:        name,
		DisplayName: displayName,
		Description: description,
		Category:    category,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.permissions[name]; exists {
		if old.Category != category {
			r.removeFromCategory(old.Category, name)
		}
	} else {
		r.order = append(r.order, name)
	}
	r.permissions[name] = p

	if category != "" && !contains(r.byCategory[category], name) {
		if _, known := r.byCategory[category]; !known {
			r.categories = append(r.categories, category)
		}
		r.byCategory[category] = append(r.byCategory[category], name)
	}
	return p, nil
}

// RegisterAll 批量注册同一分类的权限
func (r *Registry) RegisterAll(category string, defs []Permission) error {
	for _, d := range defs {
		if _, err := r.Register(d.Name, d.DisplayName, d.Description, category); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) removeFromCategory(category, name string) {
	if category == "" {
		return
	}
	names := r.byCategory[category]
	for i, n := range names {
		if n == name {
			r.byCategory[category] = append(names[:i:i], names[i+1:]...)
			break
		}
	}
}

// Get 按名称查找权限
func (r *Registry) Get(name string) (Permission, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.permissions[name]
	return p, ok
}

// All 按注册顺序返回全部权限
func (r *Registry) All() []Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Permission, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, r.permissions[name])
	}
	return all
}

// ByCategory 返回指定分类下的权限
func (r *Registry) ByCategory(category string) []Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.byCategory[category]
	result := make([]Permission, 0, len(names))
	for _, name := range names {
		result = append(result, r.permissions[name])
	}
	return result
}

// Categories 按首次出现顺序返回分类
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.categories...)
}

// Manifest 权限清单的序列化形式
type Manifest struct {
	ServiceKey  string       `json:"service_key"`
	Permissions []Permission `json:"permissions"`
	Categories  []string     `json:"categories"`
}

// ToManifest 转换为可序列化的清单
func (r *Registry) ToManifest() Manifest {
	return Manifest{
		ServiceKey:  r.serviceKey,
		Permissions: r.All(),
		Categories:  r.Categories(),
	}
}

// MarshalJSON 实现json.Marshaler
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToManifest())
}

// ToJSON 返回缩进格式的JSON
func (r *Registry) ToJSON() (string, error) {
	data, err := json.MarshalIndent(r.ToManifest(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化权限清单失败: %w", err)
	}
	return string(data), nil
}

// Sync 把全部权限推送到auth-service
func (r *Registry) Sync(ctx context.Context, syncer Syncer) error {
	return syncer.SyncPermissions(ctx, r.All())
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
