package heartbeat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/kong-auth-connector/pkg/clock"
	"github.com/hewenyu/kong-auth-connector/pkg/config"
	"github.com/hewenyu/kong-auth-connector/pkg/registry"
)

// DefaultJoinTimeout Stop等待心跳协程退出的最长时间
const DefaultJoinTimeout = 5 * time.Second

// TickFunc 每个周期执行一次的回调，ctx在Stop时被取消
type TickFunc func(ctx context.Context) registry.HeartbeatOutcome

// Scheduler 周期执行心跳任务，同一时刻最多只有一个任务在运行
type Scheduler struct {
	name        string
	logger      config.Logger
	clock       clock.Clock
	joinTimeout time.Duration

	mu   sync.Mutex
	task *task
}

// task 正在运行的心跳任务
type task struct {
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option Scheduler可选项
type Option func(*Scheduler)

// WithClock 使用自定义时钟
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithJoinTimeout 设置Stop的最长等待时间
func WithJoinTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.joinTimeout = d
		}
	}
}

// NewScheduler 创建心跳调度器
func NewScheduler(name string, logger config.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:        name,
		logger:      logger,
		clock:       clock.System,
		joinTimeout: DefaultJoinTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 启动心跳任务。已有任务在运行时仅记录日志并返回false
func (s *Scheduler) Start(interval time.Duration, onTick TickFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.task != nil {
		s.logger.Warn("心跳任务已在运行", zap.String("task", s.name))
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.task = t

	go s.loop(ctx, t, onTick)
	return true
}

// loop 心跳主循环：先执行一次回调，再等待一个周期或取消信号
func (s *Scheduler) loop(ctx context.Context, t *task, onTick TickFunc) {
	defer func() {
		// 协程真正退出后才释放任务句柄
		s.mu.Lock()
		if s.task == t {
			s.task = nil
		}
		s.mu.Unlock()
		close(t.done)
	}()

	s.logger.Info("心跳任务已启动",
		zap.String("task", s.name),
		zap.Duration("interval", t.interval))

	for {
		outcome := onTick(ctx)
		s.logger.Debug("心跳周期完成",
			zap.String("task", s.name),
			zap.Stringer("status", outcome.Status))

		select {
		case <-ctx.Done():
			s.logger.Info("心跳任务已停止", zap.String("task", s.name))
			return
		case <-s.clock.After(t.interval):
		}
	}
}

// Stop 发出取消信号并等待任务退出，最多等待joinTimeout。未启动时直接返回。
// 等待超时后任务仍视为运行中，直到协程退出前Start都会被拒绝
func (s *Scheduler) Stop() {
	s.mu.Lock()
	t := s.task
	s.mu.Unlock()

	if t == nil {
		return
	}

	t.cancel()

	timer := time.NewTimer(s.joinTimeout)
	defer timer.Stop()

	select {
	case <-t.done:
	case <-timer.C:
		s.logger.Warn("等待心跳任务退出超时",
			zap.String("task", s.name),
			zap.Duration("timeout", s.joinTimeout))
	}
}

// Running 返回是否有心跳任务在运行，包括已取消但尚未退出的任务
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task != nil
}
