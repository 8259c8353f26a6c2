// Package api 将注册表中的服务挂载到 HTTP 监听器上。
//
// 每个服务拥有一条独立的处理链，路由表在注册表快照替换后整体重建并原子切换，
// 正在处理的请求继续使用旧的路由与快照。
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SoftInstigate/restheart-sub016/internal/handlers"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
	"github.com/SoftInstigate/restheart-sub016/pkg/pipeline"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// ShutdownTimeout 是优雅关闭等待进行中请求的时间。
const ShutdownTimeout = 5 * time.Second

// Server 负责对外暴露服务插件。
type Server struct {
	addr   string
	holder *plugin.Holder
	opts   handlers.Options
	router atomic.Pointer[chi.Mux]
	log    *slog.Logger
}

// NewServer 构造服务器并按 holder 当前的快照建立路由。
func NewServer(addr string, holder *plugin.Holder, dispatcher *pipeline.Dispatcher, opts handlers.Options) *Server {
	opts.Source = holder
	opts.Dispatcher = dispatcher
	s := &Server{
		addr:   addr,
		holder: holder,
		opts:   opts,
		log:    logger.Named("api"),
	}
	s.Rebuild()
	return s
}

// Rebuild 根据当前快照重建路由表。多个服务声明相同路由时，优先级高的生效。
func (s *Server) Rebuild() {
	r := chi.NewRouter()
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	reg := s.holder.Current()
	mounted := make(map[string]string)
	for _, rec := range reg.All(plugin.KindService) {
		route := handlers.Route(rec)
		if owner, taken := mounted[route]; taken {
			s.log.Warn("路由已被占用，忽略服务",
				slog.String("route", route),
				slog.String("service", rec.Name),
				slog.String("owner", owner))
			continue
		}
		mounted[route] = rec.Name
		h := s.serve(reg, handlers.ServicePipeline(s.opts, rec))
		if route == "/" {
			r.Handle("/", h)
			r.Handle("/*", h)
		} else {
			r.Handle(route, h)
			r.Handle(route+"/*", h)
		}
		s.log.Debug("服务已挂载", slog.String("service", rec.Name), slog.String("route", route))
	}
	s.router.Store(r)
}

// Reload 发布新的注册表快照并重建路由。旧快照在 grace 之后关闭，
// 让仍在使用它的请求与异步任务执行完毕。
func (s *Server) Reload(next *plugin.Registry, grace time.Duration) {
	prev := s.holder.Swap(next)
	s.Rebuild()
	if prev == nil || prev == next {
		return
	}
	time.AfterFunc(grace, func() {
		if err := prev.Close(context.Background()); err != nil {
			s.log.Warn("关闭旧注册表失败", slog.Any("error", err))
		}
	})
}

// ServeHTTP 实现 http.Handler。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.Load().ServeHTTP(w, r)
}

// serve 将交换固定在建立路由时的快照上，处理链与异步拦截器都不会看到之后的替换。
func (s *Server) serve(reg *plugin.Registry, head pipeline.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ex := exchange.New(r)
		pipeline.Pin(ex, reg)
		if err := head.HandleRequest(ex); err != nil {
			s.log.Error("处理链返回错误", slog.String("exchange_id", ex.ID()), slog.Any("error", err))
			ex.SetInError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		if err := ex.Flush(w); err != nil {
			s.log.Debug("写入响应失败", slog.String("exchange_id", ex.ID()), slog.Any("error", err))
		}
		if len(reg.InterceptorsFor(plugin.ResponseAsync)) == 0 {
			return
		}
		outcome := "submitted"
		if err := s.opts.Dispatcher.Dispatch(plugin.ResponseAsync, ex); err != nil {
			outcome = "rejected"
		}
		s.opts.Metrics.ObserveAsync(outcome)
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	ex := exchange.New(r)
	ex.SetInError(http.StatusNotFound, "no service is mounted on "+r.URL.Path)
	_ = ex.Flush(w)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定监听器上提供服务，ctx 取消后优雅关闭。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("HTTP 服务已启动", slog.String("address", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
