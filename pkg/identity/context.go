package identity

import "context"

type contextKey struct{}

// NewContext 返回携带身份的上下文
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext 取出上下文中的身份，不存在时返回nil
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
