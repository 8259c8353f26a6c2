// Package metrics 基于 Prometheus client_golang 暴露运行时指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "restheart"

// Collector 汇总请求、拦截器与插件相关的指标，使用独立的 Registry 避免污染全局默认注册表。
type Collector struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	faults   *prometheus.CounterVec
	plugins  *prometheus.GaugeVec
	excluded prometheus.Gauge
	async    *prometheus.CounterVec
}

// New 创建指标收集器并注册全部指标。
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"service", "method", "code"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"service", "method"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"service", "method"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interceptor_faults_total",
			Help:      "Interceptor faults caught by the dispatcher.",
		}, []string{"interceptor", "point"}),
		plugins: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_live",
			Help:      "Number of live plugins per kind in the published registry.",
		}, []string{"kind"}),
		excluded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_excluded",
			Help:      "Number of plugins excluded during the last bootstrap.",
		}),
		async: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "async_tasks_total",
			Help:      "Post-response tasks by outcome.",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(
		c.requests, c.errors, c.latency, c.faults, c.plugins, c.excluded, c.async,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveExchange 记录一次请求的结果。
func (c *Collector) ObserveExchange(service, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	if service == "" {
		service = "none"
	}
	c.requests.WithLabelValues(service, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		c.errors.WithLabelValues(service, method).Inc()
	}
	c.latency.WithLabelValues(service, method).Observe(duration.Seconds())
}

// ObserveFault 记录一次拦截器异常。
func (c *Collector) ObserveFault(interceptor, point string) {
	if c == nil {
		return
	}
	c.faults.WithLabelValues(interceptor, point).Inc()
}

// ObserveAsync 记录异步任务的投递结果，outcome 取值 submitted 或 rejected。
func (c *Collector) ObserveAsync(outcome string) {
	if c == nil {
		return
	}
	c.async.WithLabelValues(outcome).Inc()
}

// SetPlugins 更新各类插件的数量。
func (c *Collector) SetPlugins(live map[string]int, excluded int) {
	if c == nil {
		return
	}
	c.plugins.Reset()
	for kind, n := range live {
		c.plugins.WithLabelValues(kind).Set(float64(n))
	}
	c.excluded.Set(float64(excluded))
}

// Gatherer 返回底层注册表，便于测试读取指标。
func (c *Collector) Gatherer() prometheus.Gatherer { return c.registry }

// Handler 以 Prometheus 文本格式暴露指标。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer 启动独立的 /metrics 服务，ctx 取消时优雅关闭。
func StartServer(ctx context.Context, addr string, c *Collector) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
