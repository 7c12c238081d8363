package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
)

// 注册中心后端类型
const (
	RegistryBackendHTTP = "http"
	RegistryBackendEtcd = "etcd"
)

// Config 定义整个连接器的配置结构
type Config struct {
	Service     ServiceConfig     `mapstructure:"service"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	AuthService AuthServiceConfig `mapstructure:"auth_service"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Cache       CacheConfig       `mapstructure:"cache"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServiceConfig 当前服务实例配置
type ServiceConfig struct {
	Key             string            `mapstructure:"key"`
	InternalURL     string            `mapstructure:"internal_url"`
	ContainerName   string            `mapstructure:"container_name"` // 为空时从环境变量或主机名推导
	HealthCheckPath string            `mapstructure:"health_check_path"`
	Metadata        map[string]string `mapstructure:"metadata"`
}

// RegistryConfig 服务注册中心配置
type RegistryConfig struct {
	URL     string `mapstructure:"url"`
	Backend string `mapstructure:"backend"` // "http" 或 "etcd"

	// SRV记录名，设置后通过DNS解析注册中心地址
	SRVName    string   `mapstructure:"srv_name"`
	DNSServers []string `mapstructure:"dns_servers"`

	EtcdEndpoints []string `mapstructure:"etcd_endpoints"`
	EtcdPrefix    string   `mapstructure:"etcd_prefix"`
	LeaseTTL      int      `mapstructure:"lease_ttl"` // 秒

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	ReregisterRetries int           `mapstructure:"reregister_retries"`
	ReregisterDelay   time.Duration `mapstructure:"reregister_delay"`
	StartupDelay      time.Duration `mapstructure:"startup_delay"`
}

// AuthServiceConfig auth-service配置
type AuthServiceConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// JWTConfig 令牌校验配置
type JWTConfig struct {
	VerifySignature bool   `mapstructure:"verify_signature"`
	Secret          string `mapstructure:"secret"`
}

// CacheConfig 权限缓存配置
type CacheConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	RedisAddr   string        `mapstructure:"redis_addr"` // 为空时使用进程内缓存
	RedisDB     int           `mapstructure:"redis_db"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
}

// HTTPConfig 示例服务的监听配置
type HTTPConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
	Port          int    `mapstructure:"port"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("auth-connector")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.auth-connector")
		v.AddConfigPath("/etc/auth-connector")
	}
	v.SetConfigType("yaml")

	// 找不到配置文件时使用默认值和环境变量，其他错误则返回
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	v.SetEnvPrefix("AUTH_CONNECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.key", "")
	v.SetDefault("service.internal_url", "")
	v.SetDefault("service.container_name", "")
	v.SetDefault("service.health_check_path", "/health")

	v.SetDefault("registry.url", "http://auth-service:8080/api/registry")
	v.SetDefault("registry.backend", RegistryBackendHTTP)
	v.SetDefault("registry.srv_name", "")
	v.SetDefault("registry.dns_servers", []string{"127.0.0.1:53"})
	v.SetDefault("registry.etcd_endpoints", []string{"localhost:2379"})
	v.SetDefault("registry.etcd_prefix", "/auth-connector/services/")
	v.SetDefault("registry.lease_ttl", 90)
	v.SetDefault("registry.heartbeat_interval", "30s")
	v.SetDefault("registry.max_retries", 10)
	v.SetDefault("registry.retry_delay", "3s")
	v.SetDefault("registry.reregister_retries", 3)
	v.SetDefault("registry.reregister_delay", "2s")
	v.SetDefault("registry.startup_delay", "2s")

	v.SetDefault("auth_service.url", "http://auth-service:8080")
	v.SetDefault("auth_service.timeout", "10s")

	v.SetDefault("jwt.verify_signature", true)
	v.SetDefault("jwt.secret", "")

	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_prefix", "auth-connector:permissions:")

	v.SetDefault("http.listen_address", "0.0.0.0")
	v.SetDefault("http.port", 8000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// bindEnvVariables 绑定部署环境中常用的环境变量
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("registry.url", "AUTH_CONNECTOR_REGISTRY_URL", "REGISTRY_URL")
	v.BindEnv("auth_service.url", "AUTH_CONNECTOR_AUTH_SERVICE_URL", "AUTH_SERVICE_URL")
	v.BindEnv("service.key", "AUTH_CONNECTOR_SERVICE_KEY", "SERVICE_KEY")
	v.BindEnv("service.internal_url", "AUTH_CONNECTOR_INTERNAL_URL", "INTERNAL_URL")
	v.BindEnv("service.container_name", "AUTH_CONNECTOR_CONTAINER_NAME", "CONTAINER_NAME")
	v.BindEnv("jwt.secret", "AUTH_CONNECTOR_JWT_SECRET", "JWT_SECRET")
}

// Validate 校验配置，所有问题合并为一个错误返回
func (c *Config) Validate() error {
	var errs error

	if strings.TrimSpace(c.Service.Key) == "" {
		errs = multierr.Append(errs, autherr.NewConfigurationError("service.key不能为空"))
	}
	if c.Registry.URL == "" && c.Registry.SRVName == "" && c.Registry.Backend != RegistryBackendEtcd {
		errs = multierr.Append(errs, autherr.NewConfigurationError("registry.url与registry.srv_name不能同时为空"))
	}
	if c.Registry.Backend != RegistryBackendHTTP && c.Registry.Backend != RegistryBackendEtcd {
		errs = multierr.Append(errs, autherr.NewConfigurationError(fmt.Sprintf("不支持的注册中心后端: %s", c.Registry.Backend)))
	}
	if c.Registry.Backend == RegistryBackendEtcd && len(c.Registry.EtcdEndpoints) == 0 {
		errs = multierr.Append(errs, autherr.NewConfigurationError("etcd端点不能为空"))
	}
	if c.Registry.HeartbeatInterval <= 0 {
		errs = multierr.Append(errs, autherr.NewConfigurationError("心跳间隔必须大于0"))
	}
	if c.Registry.MaxRetries <= 0 || c.Registry.ReregisterRetries <= 0 {
		errs = multierr.Append(errs, autherr.NewConfigurationError("重试次数必须大于0"))
	}
	return errs
}

// GetDefaultConfigPath 返回默认配置文件路径
func GetDefaultConfigPath() string {
	paths := []string{
		"./auth-connector.yaml",
		"./configs/auth-connector.yaml",
		os.Getenv("HOME") + "/.auth-connector/auth-connector.yaml",
		"/etc/auth-connector/auth-connector.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
