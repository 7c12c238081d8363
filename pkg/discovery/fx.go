package discovery

import (
	"context"

	"go.uber.org/fx"

	"github.com/hewenyu/kong-auth-connector/pkg/config"
	"github.com/hewenyu/kong-auth-connector/pkg/registry"
)

// Module 把注册生命周期接入fx应用：启动后延迟注册，停止时先注销再释放连接
var Module = fx.Module("discovery",
	fx.Provide(provideManager),
	fx.Invoke(registerLifecycle),
)

// Params provideManager的依赖。Transport可选，未提供时按配置创建
type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    config.Logger
	Transport registry.Transport `optional:"true"`
}

func provideManager(p Params) (*Manager, error) {
	if p.Transport != nil {
		instance, err := InstanceFromConfig(p.Config.Service)
		if err != nil {
			return nil, err
		}
		return NewManager(instance, p.Transport, p.Logger, OptionsFromConfig(p.Config.Registry))
	}

	m, closer, err := NewFromConfig(context.Background(), p.Config, p.Logger)
	if err != nil {
		return nil, err
	}
	// 先追加的钩子后执行，连接在注销之后关闭
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return closer.Close()
		},
	})
	return m, nil
}

func registerLifecycle(lc fx.Lifecycle, m *Manager, cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// 启动上下文在OnStart返回后失效，注册使用独立的上下文
			StartAsync(ctx, m, cfg.Registry.StartupDelay)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			defer cancel()
			return m.Deregister(stopCtx)
		},
	})
}
