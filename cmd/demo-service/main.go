package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/hewenyu/kong-auth-connector/pkg/config"
	"github.com/hewenyu/kong-auth-connector/pkg/discovery"
)

const (
	configFlag      = "config"
	portFlag        = "port"
	serviceKeyFlag  = "service-key"
	internalURLFlag = "internal-url"
	backendFlag     = "registry-backend"
	logLevelFlag    = "log-level"
)

// 停止fx应用的最长等待时间
const stopTimeout = 20 * time.Second

var demoCmd = cli.Command{
	Name:   "demo-service",
	Usage:  "运行接入auth-connector的示例服务",
	Action: runDemo,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  configFlag,
			Usage: "配置文件路径",
		},
		&cli.IntFlag{
			Name:  portFlag,
			Usage: "HTTP监听端口，覆盖配置文件",
		},
		&cli.StringFlag{
			Name:  serviceKeyFlag,
			Usage: "服务key，覆盖配置文件",
		},
		&cli.StringFlag{
			Name:  internalURLFlag,
			Usage: "服务内部访问地址，覆盖配置文件",
		},
		&cli.StringFlag{
			Name:  backendFlag,
			Usage: "注册中心后端: http 或 etcd",
		},
		&cli.StringFlag{
			Name:  logLevelFlag,
			Usage: "日志级别",
		},
	},
}

func main() {
	if err := demoCmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "示例服务退出: %v\n", err)
		os.Exit(1)
	}
}

// buildConfig 加载配置并应用命令行覆盖
func buildConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cmd.String(configFlag))
	if err != nil {
		return nil, err
	}

	if port := cmd.Int(portFlag); port > 0 {
		cfg.HTTP.Port = int(port)
	}
	if key := cmd.String(serviceKeyFlag); key != "" {
		cfg.Service.Key = key
	}
	if u := cmd.String(internalURLFlag); u != "" {
		cfg.Service.InternalURL = u
	}
	if b := cmd.String(backendFlag); b != "" {
		cfg.Registry.Backend = b
	}
	if lvl := cmd.String(logLevelFlag); lvl != "" {
		cfg.Log.Level = lvl
	}
	if cfg.Service.InternalURL == "" {
		cfg.Service.InternalURL = fmt.Sprintf("http://%s:%d", "localhost", cfg.HTTP.Port)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}
	return cfg, nil
}

func runDemo(ctx context.Context, cmd *cli.Command) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := config.NewLoggerWithLevel(cfg.Log.Development, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}

	logger.Info("示例服务启动中",
		zap.String("service_key", cfg.Service.Key),
		zap.String("registry_backend", cfg.Registry.Backend),
		zap.Int("port", cfg.HTTP.Port))

	var manager *discovery.Manager
	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(func() config.Logger { return logger }),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.(*config.ZapLogger).Zap()}
		}),
		serverModule,
		discovery.Module,
		fx.Populate(&manager),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, fx.DefaultTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}

	stopped := make(chan struct{})
	hooks := discovery.ArmShutdownHooks(manager, logger, func(os.Signal) {
		close(stopped)
	})

	select {
	case <-stopped:
	case <-ctx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	stopErr := app.Stop(stopCtx)

	hooks.RunExitHooks()
	logger.Info("示例服务已退出")
	return stopErr
}
