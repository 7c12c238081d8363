package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartAsync 在后台延迟delay后注册实例，不阻塞服务启动。
// 返回的通道在注册结束后收到结果并关闭
func StartAsync(ctx context.Context, m *Manager, delay time.Duration) <-chan error {
	result := make(chan error, 1)

	go func() {
		defer close(result)

		if delay > 0 {
			m.logger.Info("延迟启动服务注册", append(m.fields(), zap.Duration("delay", delay))...)
			select {
			case <-ctx.Done():
				result <- ctx.Err()
				return
			case <-m.closing:
				result <- ErrDeregistered
				return
			case <-m.opts.Clock.After(delay):
			}
		}

		err := m.Register(ctx)
		if err != nil {
			m.logger.Error("后台服务注册失败", append(m.fields(), zap.Error(err))...)
		}
		result <- err
	}()

	return result
}
