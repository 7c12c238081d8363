package registry

import (
	"context"
	"errors"
	"syscall"
	"time"
)

// 各类调用的超时时间
const (
	DefaultRegisterTimeout  = 10 * time.Second
	DefaultHeartbeatTimeout = 5 * time.Second
)

// HeartbeatStatus 心跳结果类型
type HeartbeatStatus int

const (
	// HeartbeatOK 心跳成功
	HeartbeatOK HeartbeatStatus = iota
	// HeartbeatInstanceNotFound 注册中心已不认识该实例，需要重新注册
	HeartbeatInstanceNotFound
	// HeartbeatFailed 其他失败
	HeartbeatFailed
)

// String 返回心跳结果类型的名称
func (s HeartbeatStatus) String() string {
	switch s {
	case HeartbeatOK:
		return "ok"
	case HeartbeatInstanceNotFound:
		return "instance_not_found"
	case HeartbeatFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HeartbeatOutcome 单次心跳的结果
type HeartbeatOutcome struct {
	Status HeartbeatStatus
	Reason string
	// Err 失败时的底层错误
	Err error
}

// OK 构造成功结果
func OK() HeartbeatOutcome {
	return HeartbeatOutcome{Status: HeartbeatOK}
}

// NotFound 构造实例不存在结果
func NotFound() HeartbeatOutcome {
	return HeartbeatOutcome{Status: HeartbeatInstanceNotFound, Reason: "instance not found"}
}

// Failed 构造失败结果
func Failed(reason string, err error) HeartbeatOutcome {
	return HeartbeatOutcome{Status: HeartbeatFailed, Reason: reason, Err: err}
}

// Transport 注册中心的三种远程调用。实现不保留调用间状态，可并发使用
type Transport interface {
	// Register 注册服务实例
	Register(ctx context.Context, instance *ServiceInstance) error

	// Heartbeat 发送心跳，网络错误体现在结果中而不是返回error
	Heartbeat(ctx context.Context, serviceKey, containerName string) HeartbeatOutcome

	// Deregister 注销服务实例
	Deregister(ctx context.Context, serviceKey, containerName string) error
}

// IsConnectionRefused 判断错误是否由连接被拒绝引起（通常表示注册中心尚未就绪）
func IsConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
