package registry

import (
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
)

// ServiceInstance 表示注册到注册中心的服务实例，构造后不可修改
type ServiceInstance struct {
	serviceKey      string
	containerName   string
	internalURL     string
	healthCheckPath string
	metadata        map[string]string
}

// InstanceOptions 构造服务实例的参数
type InstanceOptions struct {
	ServiceKey      string
	ContainerName   string // 为空时自动推导
	InternalURL     string
	HealthCheckPath string // 默认 /health
	Metadata        map[string]string
}

// NewServiceInstance 校验参数并创建服务实例
func NewServiceInstance(opts InstanceOptions) (*ServiceInstance, error) {
	key := strings.TrimSpace(opts.ServiceKey)
	if key == "" {
		return nil, autherr.NewConfigurationError("服务key不能为空")
	}

	containerName := opts.ContainerName
	if containerName == "" {
		containerName = DetectContainerName()
	}

	healthCheckPath := opts.HealthCheckPath
	if healthCheckPath == "" {
		healthCheckPath = "/health"
	}

	metadata := make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		metadata[k] = v
	}

	return &ServiceInstance{
		serviceKey:      key,
		containerName:   containerName,
		internalURL:     opts.InternalURL,
		healthCheckPath: healthCheckPath,
		metadata:        metadata,
	}, nil
}

// DetectContainerName 推导容器名：CONTAINER_NAME环境变量 > 主机名 > 随机名
func DetectContainerName() string {
	if name := os.Getenv("CONTAINER_NAME"); name != "" {
		return name
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "instance-" + uuid.NewString()[:8]
}

// ServiceKey 返回服务key
func (s *ServiceInstance) ServiceKey() string { return s.serviceKey }

// ContainerName 返回容器名
func (s *ServiceInstance) ContainerName() string { return s.containerName }

// InternalURL 返回内部访问地址
func (s *ServiceInstance) InternalURL() string { return s.internalURL }

// HealthCheckPath 返回健康检查路径
func (s *ServiceInstance) HealthCheckPath() string { return s.healthCheckPath }

// Metadata 返回元数据的副本
func (s *ServiceInstance) Metadata() map[string]string {
	out := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

// registrationPayload 注册请求体
type registrationPayload struct {
	ServiceKey      string            `json:"service_key"`
	ContainerName   string            `json:"container_name"`
	InternalURL     string            `json:"internal_url"`
	HealthCheckPath string            `json:"health_check_path"`
	Metadata        map[string]string `json:"metadata"`
}

func (s *ServiceInstance) payload() registrationPayload {
	return registrationPayload{
		ServiceKey:      s.serviceKey,
		ContainerName:   s.containerName,
		InternalURL:     s.internalURL,
		HealthCheckPath: s.healthCheckPath,
		Metadata:        s.Metadata(),
	}
}
