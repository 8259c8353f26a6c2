package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SoftInstigate/restheart-sub016/internal/config"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
)

type rootOptions struct {
	configPath  string
	pluginsConf string
}

func newRootCommand(version, commit, date string) *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "restheartd",
		Short: "RESTHeart 插件化 HTTP 服务器",
		Long: `restheartd 加载服务、拦截器、认证与授权插件，并在统一的处理管线上对外提供 HTTP 服务。

不带子命令运行时等同于 restheartd run。`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "配置文件路径（YAML 或 JSON）")
	flags.StringVar(&opts.pluginsConf, "plugins-conf", "", "叠加的插件配置文件，覆盖同名插件的配置块")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newPluginsCommand(opts))
	rootCmd.AddCommand(newEventsCommand(opts))
	return rootCmd
}

// load 读取配置并初始化日志。
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.pluginsConf != "" {
		if err := cfg.MergePluginsConf(o.pluginsConf); err != nil {
			return nil, fmt.Errorf("加载插件配置失败: %w", err)
		}
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}
