// Package config 加载服务器配置：YAML/JSON 文件、RESTHEART_ 前缀的环境变量与默认值，
// 并支持监听配置文件变化。
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/SoftInstigate/restheart-sub016/internal/observability/alerting"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 RESTHEART_LISTENER_ADDRESS。
const EnvPrefix = "RESTHEART"

// Config 描述服务器启动所需的全部配置。
type Config struct {
	Listener ListenerConfig       `mapstructure:"listener"`
	Logging  logger.Config        `mapstructure:"logging"`
	Plugins  plugin.ManagerConfig `mapstructure:"plugins"`
	Async    AsyncConfig          `mapstructure:"async"`
	Security SecurityConfig       `mapstructure:"security"`
	Metrics  MetricsConfig        `mapstructure:"metrics"`
	Alerting alerting.Config      `mapstructure:"alerting"`
	Reload   ReloadConfig         `mapstructure:"reload"`
}

// ListenerConfig 控制 HTTP 监听地址。
type ListenerConfig struct {
	Address string `mapstructure:"address"`
}

// AsyncConfig 控制执行 RESPONSE_ASYNC 拦截器的工作池。
type AsyncConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue-size"`
}

// SecurityConfig 列出启动时必须成功加载的安全插件，任一失败即终止启动。
type SecurityConfig struct {
	RequiredPlugins []string `mapstructure:"required-plugins"`
}

// MetricsConfig 控制指标采集。Address 非空时额外启动独立的指标监听器。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// ReloadConfig 控制配置热加载。Grace 是旧注册表在替换后继续保留的时间。
type ReloadConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Grace   time.Duration `mapstructure:"grace"`
}

// Load 解析指定路径的配置文件；路径为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	baseDir := "."
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.Plugins.Root = v.AllSettings()
	cfg.applyDefaults(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listener.address", ":8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("async.workers", 4)
	v.SetDefault("async.queue-size", 256)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", "")
	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.webhook", "")
	v.SetDefault("reload.enabled", false)
	v.SetDefault("reload.grace", "30s")
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值，并将相对路径解析到配置文件所在目录。
func (c *Config) applyDefaults(baseDir string) {
	if c.Listener.Address == "" {
		c.Listener.Address = ":8080"
	}
	if c.Async.Workers <= 0 {
		c.Async.Workers = 4
	}
	if c.Async.QueueSize <= 0 {
		c.Async.QueueSize = 256
	}
	if c.Reload.Grace <= 0 {
		c.Reload.Grace = 30 * time.Second
	}
	if c.Plugins.Args == nil {
		c.Plugins.Args = map[string]plugin.PluginConfig{}
	}

	for i, f := range c.Plugins.DescriptorFiles {
		c.Plugins.DescriptorFiles[i] = resolve(baseDir, f)
	}
	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	}
	for name, pc := range c.Plugins.Args {
		if file, ok := pc.Config["file"].(string); ok && file != "" {
			pc.Config["file"] = resolve(baseDir, file)
			c.Plugins.Args[name] = pc
		}
	}
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 检查配置的一致性。
func (c *Config) Validate() error {
	if c.Alerting.Enabled && c.Alerting.Webhook != "" &&
		!strings.HasPrefix(c.Alerting.Webhook, "http://") && !strings.HasPrefix(c.Alerting.Webhook, "https://") {
		return fmt.Errorf("告警 webhook 必须是 http(s) 地址: %s", c.Alerting.Webhook)
	}
	if c.Metrics.Address != "" && !c.Metrics.Enabled {
		return errors.New("metrics.address 需要同时启用 metrics.enabled")
	}
	return c.Plugins.Validate()
}

// MergePluginsConf 叠加独立的插件配置文件：同名插件的配置块整体替换，描述符文件追加。
func (c *Config) MergePluginsConf(path string) error {
	overlay, err := plugin.LoadManagerConfig(path)
	if err != nil {
		return err
	}
	baseDir := filepath.Dir(path)
	for _, f := range overlay.DescriptorFiles {
		c.Plugins.DescriptorFiles = append(c.Plugins.DescriptorFiles, resolve(baseDir, f))
	}
	if overlay.Defaults.Required || len(overlay.Defaults.AllowedCapabilities) > 0 || len(overlay.Defaults.DeniedCapabilities) > 0 {
		c.Plugins.Defaults = overlay.Defaults
	}
	if c.Plugins.Args == nil {
		c.Plugins.Args = map[string]plugin.PluginConfig{}
	}
	for name, pc := range overlay.Args {
		if file, ok := pc.Config["file"].(string); ok && file != "" {
			pc.Config["file"] = resolve(baseDir, file)
		}
		c.Plugins.Args[name] = pc
	}
	return c.Plugins.Validate()
}

// Watch 监听配置文件变化，每次变化后重新加载并回调 onChange。ctx 取消后不再回调；
// 连续的写事件在 debounce 时间内合并为一次。
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(*Config, error)) error {
	if path == "" {
		return errors.New("配置文件路径为空，无法监听")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	v.OnConfigChange(func(fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if ctx.Err() != nil {
				return
			}
			onChange(Load(path))
		})
	})
	v.WatchConfig()
	return nil
}
