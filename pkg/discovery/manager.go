package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
	"github.com/hewenyu/kong-auth-connector/pkg/clock"
	"github.com/hewenyu/kong-auth-connector/pkg/config"
	"github.com/hewenyu/kong-auth-connector/pkg/heartbeat"
	"github.com/hewenyu/kong-auth-connector/pkg/registry"
)

// 默认参数
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxRetries        = 10
	DefaultRetryDelay        = 3 * time.Second
	DefaultReregisterRetries = 3
	DefaultReregisterDelay   = 2 * time.Second
)

var (
	// ErrRegistrationFailed 达到最大重试次数后仍未注册成功
	ErrRegistrationFailed = errors.New("服务注册失败")
	// ErrRegistrationInProgress 已有注册流程在进行
	ErrRegistrationInProgress = errors.New("服务注册正在进行")
	// ErrDeregistered 实例已注销，不能再次注册
	ErrDeregistered = errors.New("服务实例已注销")
)

// Options Manager配置，零值字段使用默认值
type Options struct {
	HeartbeatInterval time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	ReregisterRetries int
	ReregisterDelay   time.Duration
	// JoinTimeout 停止心跳时等待协程退出的最长时间
	JoinTimeout time.Duration
	Clock       clock.Clock
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.ReregisterRetries <= 0 {
		o.ReregisterRetries = DefaultReregisterRetries
	}
	if o.ReregisterDelay <= 0 {
		o.ReregisterDelay = DefaultReregisterDelay
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = heartbeat.DefaultJoinTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.System
	}
}

// DefaultOptions 返回默认配置
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: DefaultHeartbeatInterval,
		MaxRetries:        DefaultMaxRetries,
		RetryDelay:        DefaultRetryDelay,
		ReregisterRetries: DefaultReregisterRetries,
		ReregisterDelay:   DefaultReregisterDelay,
	}
}

// Manager 管理服务实例的注册生命周期：注册、心跳、404后重新注册以及只执行一次的注销
type Manager struct {
	instance  *registry.ServiceInstance
	transport registry.Transport
	scheduler *heartbeat.Scheduler
	logger    config.Logger
	opts      Options

	mu    sync.Mutex
	state State
	// closing 在第一次注销时关闭，用于打断注册重试的等待
	closing chan struct{}
	// done 在第一次注销完成后关闭
	done chan struct{}
}

// NewManager 创建生命周期管理器
func NewManager(instance *registry.ServiceInstance, transport registry.Transport, logger config.Logger, opts Options) (*Manager, error) {
	if instance == nil {
		return nil, autherr.NewConfigurationError("服务实例不能为空")
	}
	if transport == nil {
		return nil, autherr.NewConfigurationError("注册中心客户端不能为空")
	}
	if logger == nil {
		logger = config.NewNopLogger()
	}
	opts.setDefaults()

	return &Manager{
		instance:  instance,
		transport: transport,
		scheduler: heartbeat.NewScheduler(
			"heartbeat-"+instance.ServiceKey(),
			logger,
			heartbeat.WithClock(opts.Clock),
			heartbeat.WithJoinTimeout(opts.JoinTimeout),
		),
		logger:  logger,
		opts:    opts,
		state:   StateUnregistered,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Register 使用默认重试参数注册实例，成功后启动心跳
func (m *Manager) Register(ctx context.Context) error {
	return m.RegisterWithRetry(ctx, m.opts.MaxRetries, m.opts.RetryDelay)
}

// RegisterWithRetry 最多尝试maxRetries次注册，两次尝试之间等待retryDelay。
// 已注册时直接返回nil
func (m *Manager) RegisterWithRetry(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	return m.register(ctx, maxRetries, retryDelay)
}

func (m *Manager) register(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	m.mu.Lock()
	switch m.state {
	case StateRegistered:
		m.mu.Unlock()
		m.logger.Debug("服务已注册，忽略注册请求", m.fields()...)
		return nil
	case StateRegistering:
		m.mu.Unlock()
		m.logger.Warn("服务注册正在进行，忽略重复请求", m.fields()...)
		return ErrRegistrationInProgress
	case StateDeregistered:
		m.mu.Unlock()
		m.logger.Warn("服务已注销，拒绝再次注册", m.fields()...)
		return ErrDeregistered
	}
	m.state = StateRegistering
	m.mu.Unlock()

	lastErr := m.attempt(ctx, maxRetries, retryDelay)
	if lastErr != nil {
		m.mu.Lock()
		if m.state == StateRegistering {
			m.state = StateUnregistered
		}
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrRegistrationFailed, lastErr)
	}

	m.mu.Lock()
	if m.state != StateRegistering {
		// 注册过程中发生了注销，撤销刚完成的注册
		m.mu.Unlock()
		m.rollback()
		return ErrDeregistered
	}
	m.state = StateRegistered
	if !m.scheduler.Running() {
		m.scheduler.Start(m.opts.HeartbeatInterval, m.tick)
	}
	m.mu.Unlock()

	return nil
}

// attempt 执行带重试的注册调用，成功返回nil，否则返回最后一次的错误
func (m *Manager) attempt(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		select {
		case <-m.closing:
			return ErrDeregistered
		default:
		}

		err := m.transport.Register(ctx, m.instance)
		if err == nil {
			m.logger.Info("服务注册成功",
				append(m.fields(), zap.String("internal_url", m.instance.InternalURL()))...)
			return nil
		}
		lastErr = err

		if registry.IsConnectionRefused(err) {
			m.logger.Warn("注册失败：无法连接注册中心（可能尚未就绪）",
				append(m.fields(), zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))...)
		} else {
			m.logger.Warn("注册失败",
				append(m.fields(), zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries), zap.Error(err))...)
		}

		if attempt == maxRetries {
			break
		}

		m.logger.Info("稍后重试注册", append(m.fields(), zap.Duration("retry_delay", retryDelay))...)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closing:
			return ErrDeregistered
		case <-m.opts.Clock.After(retryDelay):
		}
	}

	m.logger.Error("服务注册失败，已达最大重试次数",
		append(m.fields(), zap.Int("max_retries", maxRetries), zap.Error(lastErr))...)
	return lastErr
}

// rollback 撤销注册过程中被注销打断的注册
func (m *Manager) rollback() {
	ctx, cancel := context.WithTimeout(context.Background(), registry.DefaultRegisterTimeout)
	defer cancel()

	if err := m.transport.Deregister(ctx, m.instance.ServiceKey(), m.instance.ContainerName()); err != nil {
		m.logger.Error("撤销注册失败", append(m.fields(), zap.Error(err))...)
		return
	}
	m.logger.Info("已撤销注销期间完成的注册", m.fields()...)
}

// tick 每个心跳周期执行一次：发送心跳，收到404时转为未注册并立即重新注册
func (m *Manager) tick(ctx context.Context) registry.HeartbeatOutcome {
	if m.State() == StateDeregistered {
		return registry.Failed("服务已注销", ErrDeregistered)
	}

	outcome := m.transport.Heartbeat(ctx, m.instance.ServiceKey(), m.instance.ContainerName())
	switch outcome.Status {
	case registry.HeartbeatOK:
		m.logger.Debug("心跳发送成功", m.fields()...)

	case registry.HeartbeatInstanceNotFound:
		m.mu.Lock()
		if m.state != StateRegistered && m.state != StateUnregistered {
			m.mu.Unlock()
			return outcome
		}
		m.state = StateUnregistered
		m.mu.Unlock()

		m.logger.Warn("心跳失败(404)：实例不存在，尝试重新注册", m.fields()...)
		if err := m.register(ctx, m.opts.ReregisterRetries, m.opts.ReregisterDelay); err != nil {
			m.logger.Error("心跳失败后重新注册失败", append(m.fields(), zap.Error(err))...)
			return outcome
		}
		m.logger.Info("心跳失败后重新注册成功", m.fields()...)
		return registry.OK()

	default:
		if registry.IsConnectionRefused(outcome.Err) {
			m.logger.Warn("心跳失败：无法连接注册中心", m.fields()...)
		} else {
			m.logger.Warn("心跳失败",
				append(m.fields(), zap.String("reason", outcome.Reason), zap.Error(outcome.Err))...)
		}
	}
	return outcome
}

// Deregister 注销实例。先停止心跳，再调用一次注册中心的注销接口，
// 无论调用结果如何状态都变为已注销。重复或并发调用是安全的，只有第一次会发起远程调用
func (m *Manager) Deregister(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDeregistered {
		done := m.done
		m.mu.Unlock()
		// 等待第一次注销完成，避免进程在注销途中退出
		select {
		case <-done:
		case <-ctx.Done():
		}
		return nil
	}
	prev := m.state
	m.state = StateDeregistered
	close(m.closing)
	m.mu.Unlock()
	defer close(m.done)

	// 先停止心跳，保证注销之后不会再有心跳
	m.scheduler.Stop()

	if prev != StateRegistered {
		m.logger.Info("服务未注册，跳过注销",
			append(m.fields(), zap.Stringer("previous_state", prev))...)
		return nil
	}

	if err := m.transport.Deregister(ctx, m.instance.ServiceKey(), m.instance.ContainerName()); err != nil {
		m.logger.Error("服务注销失败", append(m.fields(), zap.Error(err))...)
		return fmt.Errorf("服务注销失败: %w", err)
	}

	m.logger.Info("服务注销成功", m.fields()...)
	return nil
}

// Close 在默认超时内注销实例，用于正常退出时的清理
func (m *Manager) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), registry.DefaultRegisterTimeout+m.opts.JoinTimeout)
	defer cancel()
	return m.Deregister(ctx)
}

// State 返回当前注册状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsRegistered 检查服务是否已注册
func (m *Manager) IsRegistered() bool {
	return m.State() == StateRegistered
}

// HeartbeatRunning 返回心跳任务是否在运行
func (m *Manager) HeartbeatRunning() bool {
	return m.scheduler.Running()
}

// Instance 返回被管理的服务实例
func (m *Manager) Instance() *registry.ServiceInstance {
	return m.instance
}

func (m *Manager) fields() []zap.Field {
	return []zap.Field{
		zap.String("service_key", m.instance.ServiceKey()),
		zap.String("container_name", m.instance.ContainerName()),
	}
}
