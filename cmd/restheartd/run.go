package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SoftInstigate/restheart-sub016/internal/app"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "启动 HTTP 服务器",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts)
		},
	}
}

func runServer(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a := app.New(cfg, opts.configPath)
	go reloadOnHangup(ctx, a, opts)

	logger.L().Info("restheartd 启动", slog.String("address", cfg.Listener.Address))
	if err := a.Run(ctx); err != nil {
		return err
	}
	logger.L().Info("restheartd 已退出")
	return nil
}

// reloadOnHangup 收到 SIGHUP 时重新读取配置并替换插件注册表。
func reloadOnHangup(ctx context.Context, a *app.App, opts *rootOptions) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := opts.load()
			if err != nil {
				logger.L().Error("重新读取配置失败", slog.Any("error", err))
				continue
			}
			a.Reload(ctx, cfg)
		}
	}
}
