package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
	"github.com/hewenyu/kong-auth-connector/pkg/config"
)

const bearerPrefix = "Bearer "

// Claims 令牌与内部服务凭证中携带的用户信息
type Claims struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	FullName    string   `json:"full_name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	IsAdmin     bool     `json:"is_admin,omitempty"`
}

// tokenClaims JWT载荷
type tokenClaims struct {
	Claims
	jwt.RegisteredClaims
}

func (c Claims) identity() (*Identity, error) {
	if c.UserID == "" {
		return nil, fmt.Errorf("缺少user_id")
	}
	return New(Options{
		UserID:      c.UserID,
		Username:    c.Username,
		DisplayName: c.FullName,
		Roles:       c.Roles,
		Permissions: c.Permissions,
		Admin:       c.IsAdmin,
	}), nil
}

// Extractor 从请求头中提取身份，按顺序尝试：Bearer令牌、网关请求头、内部服务凭证
type Extractor struct {
	secret          []byte
	verifySignature bool
	parser          *jwt.Parser
}

// NewExtractor 创建身份提取器。verifySignature为true且secret非空时校验HS256签名，
// 否则只解码令牌
func NewExtractor(secret string, verifySignature bool) *Extractor {
	return &Extractor{
		secret:          []byte(secret),
		verifySignature: verifySignature,
		parser:          jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// NewExtractorFromConfig 根据JWT配置创建提取器
func NewExtractorFromConfig(cfg config.JWTConfig) *Extractor {
	return NewExtractor(cfg.Secret, cfg.VerifySignature)
}

// Verifying 返回是否会校验令牌签名
func (e *Extractor) Verifying() bool {
	return e.verifySignature && len(e.secret) > 0
}

// Extract 提取身份。三种来源都不存在时返回(nil, nil)，
// 令牌格式错误或签名无效时返回InvalidToken错误
func (e *Extractor) Extract(h Headers) (*Identity, error) {
	if auth := h.Get(HeaderAuthorization); strings.HasPrefix(auth, bearerPrefix) {
		return e.fromBearer(strings.TrimPrefix(auth, bearerPrefix))
	}

	if h.Get(HeaderUserID) != "" && h.Get(HeaderUserName) != "" {
		return fromGatewayHeaders(h), nil
	}

	if token := h.Get(HeaderInternalAuth); token != "" {
		return fromInternalToken(token)
	}

	return nil, nil
}

func (e *Extractor) fromBearer(token string) (*Identity, error) {
	var claims tokenClaims

	if e.Verifying() {
		_, err := e.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
			return e.secret, nil
		})
		if err != nil {
			return nil, autherr.NewInvalidTokenError("Invalid JWT token", err)
		}
	} else {
		if _, _, err := e.parser.ParseUnverified(token, &claims); err != nil {
			return nil, autherr.NewInvalidTokenError("Invalid JWT token", err)
		}
	}

	id, err := claims.Claims.identity()
	if err != nil {
		return nil, autherr.NewInvalidTokenError("Invalid JWT token", err)
	}
	return id, nil
}

func fromGatewayHeaders(h Headers) *Identity {
	raw := make(map[string]string, len(gatewayHeaders))
	for _, name := range gatewayHeaders {
		if v := h.Get(name); v != "" {
			raw[name] = v
		}
	}

	return New(Options{
		UserID:      h.Get(HeaderUserID),
		Username:    h.Get(HeaderUserName),
		DisplayName: decodeHeaderValue(h.Get(HeaderUserFullName)),
		Roles:       splitList(h.Get(HeaderServiceRoles)),
		Permissions: splitList(h.Get(HeaderServicePermissions)),
		Admin:       strings.EqualFold(h.Get(HeaderUserAdmin), "true"),
		RawHeaders:  raw,
	})
}

// decodeHeaderValue 网关会把非ASCII的值做base64编码，解码失败时原样返回
func decodeHeaderValue(value string) string {
	if value == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil || !utf8.Valid(decoded) {
		return value
	}
	return string(decoded)
}

func fromInternalToken(token string) (*Identity, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, autherr.NewInvalidTokenError("Invalid internal token", err)
	}

	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return nil, autherr.NewInvalidTokenError("Invalid internal token", err)
	}

	id, err := claims.identity()
	if err != nil {
		return nil, autherr.NewInvalidTokenError("Invalid internal token", err)
	}
	return id, nil
}

// EncodeInternalToken 生成内部服务凭证，供服务间调用时放入X-Internal-Auth
func EncodeInternalToken(c Claims) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("序列化内部凭证失败: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
