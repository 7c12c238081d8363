package discovery

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/kong-auth-connector/pkg/config"
)

// 收到信号后注销的最长等待时间
const signalDeregisterTimeout = 15 * time.Second

// Deregisterer 可被关闭钩子调用的注销接口
type Deregisterer interface {
	Deregister(ctx context.Context) error
}

// ShutdownHooks 把进程退出和终止信号接到同一个Deregister上。
// Deregister本身是幂等的，所以多个触发源同时触发也只会注销一次
type ShutdownHooks struct {
	target   Deregisterer
	logger   config.Logger
	onSignal func(os.Signal)

	sigCh    chan os.Signal
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ArmShutdownHooks 监听SIGTERM和SIGINT（或指定的信号）。
// 收到信号后先注销，再调用onSignal；onSignal为nil时以状态码0退出进程
func ArmShutdownHooks(target Deregisterer, logger config.Logger, onSignal func(os.Signal), sigs ...os.Signal) *ShutdownHooks {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGTERM, syscall.SIGINT}
	}
	if onSignal == nil {
		onSignal = func(os.Signal) { os.Exit(0) }
	}

	h := &ShutdownHooks{
		target:   target,
		logger:   logger,
		onSignal: onSignal,
		sigCh:    make(chan os.Signal, 1),
		stopCh:   make(chan struct{}),
	}
	signal.Notify(h.sigCh, sigs...)

	h.wg.Add(1)
	go h.wait()
	return h
}

func (h *ShutdownHooks) wait() {
	defer h.wg.Done()

	select {
	case sig := <-h.sigCh:
		// 恢复默认处理，注销期间再次收到信号时进程可以被强制终止
		signal.Stop(h.sigCh)
		h.logger.Info("收到终止信号，正在注销服务", zap.String("signal", sig.String()))
		h.deregister()
		h.onSignal(sig)
	case <-h.stopCh:
	}
}

func (h *ShutdownHooks) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), signalDeregisterTimeout)
	defer cancel()

	if err := h.target.Deregister(ctx); err != nil {
		h.logger.Error("关闭时注销服务失败", zap.Error(err))
	}
}

// RunExitHooks 正常退出时调用：注销服务并解除信号监听
func (h *ShutdownHooks) RunExitHooks() {
	h.deregister()
	h.Disarm()
}

// Disarm 解除信号监听，不执行注销
func (h *ShutdownHooks) Disarm() {
	h.stopOnce.Do(func() {
		signal.Stop(h.sigCh)
		close(h.stopCh)
	})
	h.wg.Wait()
}
