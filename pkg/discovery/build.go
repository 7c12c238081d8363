package discovery

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/hewenyu/kong-auth-connector/pkg/config"
	"github.com/hewenyu/kong-auth-connector/pkg/registry"
	"github.com/hewenyu/kong-auth-connector/pkg/resolve"
)

// SRV解析得到的注册中心地址使用的路径
const registryAPIPath = "/api/registry"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// BuildTransport 按配置创建注册中心客户端。返回的Closer用于释放底层连接
func BuildTransport(ctx context.Context, cfg config.RegistryConfig, logger config.Logger) (registry.Transport, io.Closer, error) {
	switch cfg.Backend {
	case config.RegistryBackendEtcd:
		client, err := registry.DialEtcd(cfg.EtcdEndpoints, "", "")
		if err != nil {
			return nil, nil, err
		}
		logger.Info("使用etcd注册中心", zap.Strings("endpoints", cfg.EtcdEndpoints))
		return registry.NewEtcdTransport(client, cfg.EtcdPrefix, int64(cfg.LeaseTTL)), client, nil

	case config.RegistryBackendHTTP, "":
		url := cfg.URL
		if cfg.SRVName != "" {
			resolver, err := resolve.NewSRVResolver(cfg.DNSServers)
			if err != nil {
				return nil, nil, err
			}
			url, err = resolver.ResolveURL(ctx, cfg.SRVName, "http", registryAPIPath)
			if err != nil {
				return nil, nil, fmt.Errorf("解析注册中心地址失败: %w", err)
			}
			logger.Info("通过SRV记录解析到注册中心地址",
				zap.String("srv_name", cfg.SRVName), zap.String("url", url))
		}

		transport, err := registry.NewHTTPTransport(url)
		if err != nil {
			return nil, nil, err
		}
		return transport, nopCloser{}, nil

	default:
		return nil, nil, fmt.Errorf("不支持的注册中心后端: %s", cfg.Backend)
	}
}

// InstanceFromConfig 根据服务配置创建实例描述
func InstanceFromConfig(cfg config.ServiceConfig) (*registry.ServiceInstance, error) {
	return registry.NewServiceInstance(registry.InstanceOptions{
		ServiceKey:      cfg.Key,
		ContainerName:   cfg.ContainerName,
		InternalURL:     cfg.InternalURL,
		HealthCheckPath: cfg.HealthCheckPath,
		Metadata:        cfg.Metadata,
	})
}

// OptionsFromConfig 把注册中心配置转换为Manager选项
func OptionsFromConfig(cfg config.RegistryConfig) Options {
	return Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxRetries:        cfg.MaxRetries,
		RetryDelay:        cfg.RetryDelay,
		ReregisterRetries: cfg.ReregisterRetries,
		ReregisterDelay:   cfg.ReregisterDelay,
	}
}

// NewFromConfig 根据完整配置创建Manager。调用方负责在注销后关闭返回的Closer
func NewFromConfig(ctx context.Context, cfg *config.Config, logger config.Logger) (*Manager, io.Closer, error) {
	instance, err := InstanceFromConfig(cfg.Service)
	if err != nil {
		return nil, nil, err
	}

	transport, closer, err := BuildTransport(ctx, cfg.Registry, logger)
	if err != nil {
		return nil, nil, err
	}

	m, err := NewManager(instance, transport, logger, OptionsFromConfig(cfg.Registry))
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return m, closer, nil
}
