// Package app 装配服务器：加载插件、建立注册表、启动监听器并处理热加载与优雅关闭。
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/SoftInstigate/restheart-sub016/internal/api"
	"github.com/SoftInstigate/restheart-sub016/internal/config"
	"github.com/SoftInstigate/restheart-sub016/internal/handlers"
	"github.com/SoftInstigate/restheart-sub016/internal/observability/alerting"
	"github.com/SoftInstigate/restheart-sub016/internal/observability/metrics"
	"github.com/SoftInstigate/restheart-sub016/internal/plugins"
	"github.com/SoftInstigate/restheart-sub016/internal/worker"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
	"github.com/SoftInstigate/restheart-sub016/pkg/pipeline"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// App 持有一次运行期间共享的协作者。
type App struct {
	cfg        *config.Config
	configPath string

	holder     *plugin.Holder
	collector  *metrics.Collector
	alerts     alerting.Dispatcher
	pool       *worker.Pool
	dispatcher *pipeline.Dispatcher
	server     *api.Server
	log        *slog.Logger

	mu sync.Mutex
}

// New 根据配置创建应用。configPath 用于热加载，可以为空。
func New(cfg *config.Config, configPath string) *App {
	a := &App{
		cfg:        cfg,
		configPath: configPath,
		holder:     plugin.NewHolder(nil),
		alerts:     alerting.FromConfig(cfg.Alerting),
		log:        logger.Named("app"),
	}
	if cfg.Metrics.Enabled {
		a.collector = metrics.New()
	}
	a.pool = worker.New(
		worker.WithWorkerCount(cfg.Async.Workers),
		worker.WithQueueSize(cfg.Async.QueueSize),
	)
	a.dispatcher = pipeline.NewDispatcher(a.holder, a.pool,
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithFaultObserver(a.onFault))
	return a
}

// Holder 返回发布注册表快照的句柄。
func (a *App) Holder() *plugin.Holder { return a.holder }

func (a *App) onFault(rec *plugin.Record, point plugin.InterceptPoint, err error) {
	a.collector.ObserveFault(rec.Name, point.String())
	alerting.Emit(context.Background(), a.alerts, err, rec.Name, string(plugin.KindInterceptor), point.String())
}

// Bootstrap 按当前配置发现并实例化插件，返回新的注册表快照，但不发布。
func (a *App) Bootstrap(ctx context.Context, cfg *config.Config) (*plugin.Registry, error) {
	catalog := plugins.Builtin(a.collector)
	required := plugin.RequirePlugins(cfg.Security.RequiredPlugins...)
	failure := func(d plugin.Diagnostic, p plugin.Policy) error {
		err := required(d, p)
		if err != nil {
			alerting.Emit(ctx, a.alerts, err, d.Name, string(d.Kind), "bootstrap")
		}
		return err
	}

	m := plugin.NewManager(catalog,
		plugin.WithConfigSource(cfg.Plugins),
		plugin.WithRegistryHandle(a.holder),
		plugin.WithFailurePolicy(failure),
		plugin.WithLogger(logger.Named("plugins")))
	scanner := plugin.MultiScanner{catalog, plugin.FileScanner{Paths: cfg.Plugins.DescriptorFiles}}
	if err := m.Discover(ctx, scanner); err != nil {
		return nil, err
	}
	reg, err := m.Bootstrap(ctx)
	if err != nil {
		return nil, err
	}

	live := make(map[string]int, len(plugin.Kinds()))
	for _, kind := range plugin.Kinds() {
		live[string(kind)] = len(reg.All(kind))
	}
	a.collector.SetPlugins(live, len(reg.Diagnostics()))
	return reg, nil
}

// Run 在配置的地址上监听并阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Listener.Address)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", a.cfg.Listener.Address, err)
	}
	return a.Serve(ctx, ln)
}

// Serve 加载插件并在 ln 上提供服务，ctx 取消后依次关闭监听器、工作池与插件。
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	reg, err := a.Bootstrap(ctx, a.cfg)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("加载插件失败: %w", err)
	}
	a.holder.Swap(reg)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), api.ShutdownTimeout)
		defer cancel()
		if err := a.holder.Current().Close(closeCtx); err != nil {
			a.log.Warn("关闭插件失败", slog.Any("error", err))
		}
	}()

	if err := plugin.RunInitializers(ctx, reg, plugin.BeforeStartup); err != nil {
		_ = ln.Close()
		return fmt.Errorf("启动前初始化失败: %w", err)
	}

	a.pool.Start(ctx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), api.ShutdownTimeout)
		defer cancel()
		if err := a.pool.Close(closeCtx); err != nil {
			a.log.Warn("异步任务未在关闭期限内完成", slog.Any("error", err))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := api.NewServer(a.cfg.Listener.Address, a.holder, a.dispatcher, handlers.Options{Metrics: a.collector})
	a.mu.Lock()
	a.server = server
	a.mu.Unlock()
	var (
		wg       sync.WaitGroup
		firstErr error
		once     sync.Once
	)
	run := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				once.Do(func() { firstErr = err })
			}
			cancel()
		}()
	}
	run(func() error { return server.Serve(runCtx, ln) })
	if a.collector != nil && a.cfg.Metrics.Address != "" {
		run(func() error { return metrics.StartServer(runCtx, a.cfg.Metrics.Address, a.collector) })
	}

	if a.cfg.Reload.Enabled && a.configPath != "" {
		if err := config.Watch(runCtx, a.configPath, 500*time.Millisecond, func(next *config.Config, err error) {
			a.reload(runCtx, next, err)
		}); err != nil {
			a.log.Warn("无法监听配置文件，热加载已停用", slog.Any("error", err))
		}
	}

	if err := plugin.RunInitializers(runCtx, reg, plugin.AfterStartup); err != nil {
		a.log.Warn("启动后初始化失败", slog.Any("error", err))
	}

	wg.Wait()
	return firstErr
}

// reload 用新配置重建注册表并原子替换，失败时保留当前快照。
func (a *App) reload(ctx context.Context, next *config.Config, loadErr error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if loadErr != nil {
		a.log.Error("重新加载配置失败，保留当前插件", slog.Any("error", loadErr))
		return
	}
	reg, err := a.Bootstrap(ctx, next)
	if err != nil {
		a.log.Error("重建插件注册表失败，保留当前插件", slog.Any("error", err))
		return
	}
	if a.server == nil {
		if prev := a.holder.Swap(reg); prev != nil {
			_ = prev.Close(ctx)
		}
	} else {
		a.server.Reload(reg, next.Reload.Grace)
	}
	a.log.Info("插件注册表已替换", slog.Int("plugins", reg.Len()))
}

// Reload 用 next 重建注册表并替换当前快照，供 SIGHUP 等外部触发使用。
func (a *App) Reload(ctx context.Context, next *config.Config) {
	a.reload(ctx, next, nil)
}
