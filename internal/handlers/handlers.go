// Package handlers 提供组成服务处理链的各个节点，并按固定顺序装配每个服务的处理链。
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "github.com/SoftInstigate/restheart-sub016/internal/errors"
	"github.com/SoftInstigate/restheart-sub016/internal/observability/metrics"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
	"github.com/SoftInstigate/restheart-sub016/pkg/pipeline"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// PoweredBy 是 X-Powered-By 响应头的取值。
const PoweredBy = "restheart.org"

// ErrorGuard 将后续节点返回的错误与 panic 转换为错误响应，保证异常不会越过单个请求。
type ErrorGuard struct {
	pipeline.Link
	log *slog.Logger
}

// NewErrorGuard 创建错误兜底节点。
func NewErrorGuard() *ErrorGuard {
	return &ErrorGuard{log: logger.Named("handlers")}
}

// HandleRequest 实现 pipeline.Handler。
func (g *ErrorGuard) HandleRequest(ex *exchange.Exchange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.fail(ex, fmt.Errorf("panic: %v", r))
			err = nil
		}
	}()
	if nextErr := g.Next(ex); nextErr != nil {
		g.fail(ex, nextErr)
	}
	return nil
}

func (g *ErrorGuard) fail(ex *exchange.Exchange, err error) {
	status := xerrors.HTTPStatus(err)
	message := http.StatusText(status)
	if e, ok := xerrors.From(err); ok && status < http.StatusInternalServerError {
		message = e.Message()
	}
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	g.log.Log(ex.Context(), level, "请求处理失败",
		slog.String("exchange_id", ex.ID()),
		slog.String("path", ex.Path()),
		slog.Int("status", status),
		slog.Any("error", err))
	ex.SetInError(status, message)
	ex.MarkComplete()
}

// Metrics 在后续节点结束后记录请求指标。
type Metrics struct {
	pipeline.Link
	collector *metrics.Collector
}

// NewMetrics 创建指标节点，collector 为 nil 时不记录。
func NewMetrics(c *metrics.Collector) *Metrics {
	return &Metrics{collector: c}
}

// HandleRequest 实现 pipeline.Handler。
func (m *Metrics) HandleRequest(ex *exchange.Exchange) error {
	err := m.Next(ex)
	m.collector.ObserveExchange(ex.PipelineInfo().Name, ex.Method(), ex.Status(), time.Since(ex.Started()))
	return err
}

// PipelineInfoInjector 记录请求被路由到的处理链。
func PipelineInfoInjector(info exchange.PipelineInfo) pipeline.Chainable {
	return pipeline.Wrap(nil, func(ex *exchange.Exchange) error {
		ex.SetPipelineInfo(info)
		return nil
	})
}

// RequestLogger 以 debug 级别记录请求进入与完成。
type RequestLogger struct {
	pipeline.Link
	log *slog.Logger
}

// NewRequestLogger 创建请求日志节点。
func NewRequestLogger() *RequestLogger {
	return &RequestLogger{log: logger.Named("requests")}
}

// HandleRequest 实现 pipeline.Handler。
func (l *RequestLogger) HandleRequest(ex *exchange.Exchange) error {
	l.log.Debug("请求开始",
		slog.String("exchange_id", ex.ID()),
		slog.String("method", ex.Method()),
		slog.String("path", ex.Path()))
	err := l.Next(ex)
	l.log.Debug("请求结束",
		slog.String("exchange_id", ex.ID()),
		slog.Int("status", ex.Status()),
		slog.Duration("elapsed", time.Since(ex.Started())))
	return err
}

// XPoweredBy 设置 X-Powered-By 响应头。
func XPoweredBy() pipeline.Chainable {
	return pipeline.Wrap(nil, func(ex *exchange.Exchange) error {
		ex.Header().Set("X-Powered-By", PoweredBy)
		return nil
	})
}

// RequestInterceptors 在请求阶段执行指定拦截点的拦截器。
type RequestInterceptors struct {
	pipeline.Link
	dispatcher *pipeline.Dispatcher
	point      plugin.InterceptPoint
	filter     bool
}

// NewRequestInterceptors 创建请求拦截节点。filterRequiringContent 为 true 时跳过需要请求体的拦截器。
func NewRequestInterceptors(d *pipeline.Dispatcher, point plugin.InterceptPoint, filterRequiringContent bool) *RequestInterceptors {
	return &RequestInterceptors{dispatcher: d, point: point, filter: filterRequiringContent}
}

// HandleRequest 实现 pipeline.Handler。拦截器将交换标记为错误时，以不低于 400 的状态结束响应。
func (n *RequestInterceptors) HandleRequest(ex *exchange.Exchange) error {
	ex.SetFilterRequiringContent(n.filter)
	if !n.filter && !ex.ContentLoaded() && n.dispatcher.RequiresContent(n.point, ex) {
		if _, err := ex.Content(); err != nil {
			ex.SetInError(http.StatusBadRequest, "cannot read request content")
			ex.MarkComplete()
			return nil
		}
	}
	if err := n.dispatcher.Dispatch(n.point, ex); err != nil {
		return err
	}
	if ex.InError() {
		if ex.Status() < http.StatusBadRequest {
			ex.SetStatus(http.StatusBadRequest)
		}
		ex.MarkComplete()
		return nil
	}
	return n.Next(ex)
}

// AuthHeadersRemover 在认证之后移除请求中的凭证头，避免下游插件读取。
func AuthHeadersRemover() pipeline.Chainable {
	return pipeline.Wrap(nil, func(ex *exchange.Exchange) error {
		if req := ex.Request(); req != nil {
			req.Header.Del("Authorization")
		}
		return nil
	})
}

// ServiceHandler 调用服务插件生成响应。服务从当前注册表快照中按名称查找。
type ServiceHandler struct {
	pipeline.Link
	source pipeline.RegistrySource
	name   string
}

// NewServiceHandler 创建服务调用节点。
func NewServiceHandler(source pipeline.RegistrySource, name string) *ServiceHandler {
	return &ServiceHandler{source: source, name: name}
}

// HandleRequest 实现 pipeline.Handler。
func (s *ServiceHandler) HandleRequest(ex *exchange.Exchange) error {
	rec, ok := pipeline.SnapshotOf(s.source, ex).Get(plugin.KindService, s.name)
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("service %s is not available", s.name))
	}
	if err := rec.Instance.(plugin.Service).Handle(ex); err != nil {
		return err
	}
	return s.Next(ex)
}

// ResponseInterceptors 执行 RESPONSE 拦截器并结束响应，每个交换只执行一次。
type ResponseInterceptors struct {
	pipeline.Link
	dispatcher *pipeline.Dispatcher
}

// NewResponseInterceptors 创建响应拦截节点。
func NewResponseInterceptors(d *pipeline.Dispatcher) *ResponseInterceptors {
	return &ResponseInterceptors{dispatcher: d}
}

// HandleRequest 实现 pipeline.Handler。
func (n *ResponseInterceptors) HandleRequest(ex *exchange.Exchange) error {
	if !ex.ResponseInterceptorsExecuted() {
		ex.SetResponseInterceptorsExecuted()
		if err := n.dispatcher.Dispatch(plugin.Response, ex); err != nil {
			return err
		}
	}
	ex.MarkComplete()
	return n.Next(ex)
}

// Route 返回服务挂载的路径：配置项 uri 优先，其次是默认路由，最后为 /<name>。
func Route(rec *plugin.Record) string {
	if uri, ok := rec.Config["uri"].(string); ok && strings.HasPrefix(uri, "/") {
		if route := strings.TrimSuffix(uri, "/"); route != "" {
			return route
		}
		return "/"
	}
	if rec.Descriptor.DefaultRoute != "" {
		return rec.Descriptor.DefaultRoute
	}
	return "/" + rec.Name
}

// Secure 报告服务是否需要经过安全检查，配置项 secure 覆盖描述符的声明。
func Secure(rec *plugin.Record) bool {
	if v, ok := rec.Config["secure"].(bool); ok {
		return v
	}
	return rec.Descriptor.Secure
}
