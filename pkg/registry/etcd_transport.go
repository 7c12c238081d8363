package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
)

// etcd建连超时
const etcdDialTimeout = 5 * time.Second

// EtcdTransport 直接把实例写入etcd的注册方式。
// 注册时创建租约，心跳即续约，租约或key不存在时返回InstanceNotFound
type EtcdTransport struct {
	client           *clientv3.Client
	prefix           string
	leaseTTL         int64
	registerTimeout  time.Duration
	heartbeatTimeout time.Duration
}

// EtcdRecord 存储在etcd中的实例数据
type EtcdRecord struct {
	ServiceKey      string            `json:"service_key"`
	ContainerName   string            `json:"container_name"`
	InternalURL     string            `json:"internal_url"`
	HealthCheckPath string            `json:"health_check_path"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	RegisteredAt    string            `json:"registered_at"`
}

// DialEtcd 连接到etcd集群
func DialEtcd(endpoints []string, username, password string) (*clientv3.Client, error) {
	if len(endpoints) == 0 {
		return nil, autherr.NewConfigurationError("etcd端点不能为空")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: etcdDialTimeout,
		Username:    username,
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("连接etcd失败: %w", err)
	}
	return client, nil
}

// NewEtcdTransport 创建基于etcd的注册中心客户端，leaseTTL单位为秒
func NewEtcdTransport(client *clientv3.Client, prefix string, leaseTTL int64) *EtcdTransport {
	if prefix == "" {
		prefix = "/auth-connector/services/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if leaseTTL <= 0 {
		leaseTTL = 90
	}
	return &EtcdTransport{
		client:           client,
		prefix:           prefix,
		leaseTTL:         leaseTTL,
		registerTimeout:  DefaultRegisterTimeout,
		heartbeatTimeout: DefaultHeartbeatTimeout,
	}
}

// InstanceKey 返回实例在etcd中的key
func (e *EtcdTransport) InstanceKey(serviceKey, containerName string) string {
	return e.prefix + serviceKey + "/" + containerName
}

// Register 创建租约并写入实例数据
func (e *EtcdTransport) Register(ctx context.Context, instance *ServiceInstance) error {
	ctx, cancel := context.WithTimeout(ctx, e.registerTimeout)
	defer cancel()

	record := EtcdRecord{
		ServiceKey:      instance.ServiceKey(),
		ContainerName:   instance.ContainerName(),
		InternalURL:     instance.InternalURL(),
		HealthCheckPath: instance.HealthCheckPath(),
		Metadata:        instance.Metadata(),
		RegisteredAt:    time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化服务实例失败: %w", err)
	}

	lease, err := e.client.Grant(ctx, e.leaseTTL)
	if err != nil {
		return autherr.NewTransportError("创建etcd租约失败", err)
	}

	key := e.InstanceKey(instance.ServiceKey(), instance.ContainerName())
	if _, err := e.client.Put(ctx, key, string(data), clientv3.WithLease(lease.ID)); err != nil {
		return autherr.NewTransportError("注册服务实例失败", err)
	}
	return nil
}

// Heartbeat 续约实例的租约
func (e *EtcdTransport) Heartbeat(ctx context.Context, serviceKey, containerName string) HeartbeatOutcome {
	ctx, cancel := context.WithTimeout(ctx, e.heartbeatTimeout)
	defer cancel()

	resp, err := e.client.Get(ctx, e.InstanceKey(serviceKey, containerName))
	if err != nil {
		return Failed("获取服务实例数据失败", err)
	}
	if len(resp.Kvs) == 0 || resp.Kvs[0].Lease == 0 {
		return NotFound()
	}

	if _, err := e.client.KeepAliveOnce(ctx, clientv3.LeaseID(resp.Kvs[0].Lease)); err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			return NotFound()
		}
		return Failed("续约失败", err)
	}
	return OK()
}

// Deregister 删除实例数据并撤销租约
func (e *EtcdTransport) Deregister(ctx context.Context, serviceKey, containerName string) error {
	ctx, cancel := context.WithTimeout(ctx, e.registerTimeout)
	defer cancel()

	key := e.InstanceKey(serviceKey, containerName)
	resp, err := e.client.Delete(ctx, key, clientv3.WithPrevKV())
	if err != nil {
		return autherr.NewTransportError("注销服务实例失败", err)
	}

	for _, kv := range resp.PrevKvs {
		if kv.Lease == 0 {
			continue
		}
		// key已删除，撤销失败只会让租约自然过期
		if _, err := e.client.Revoke(ctx, clientv3.LeaseID(kv.Lease)); err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
			return autherr.NewTransportError("撤销etcd租约失败", err)
		}
	}
	return nil
}
