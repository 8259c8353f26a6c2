package services

import (
	"net/http"

	"github.com/SoftInstigate/restheart-sub016/internal/observability/metrics"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
)

// Metrics 以 Prometheus 文本格式暴露采集器中的指标。
type Metrics struct {
	collector *metrics.Collector
}

func (s *Metrics) Handle(ex *exchange.Exchange) error {
	if !allowMethods(ex, http.MethodGet, http.MethodHead) {
		return nil
	}
	s.collector.Handler().ServeHTTP(responseWriter{ex}, ex.Request())
	return nil
}

// responseWriter 让标准 http.Handler 写入交换对象的响应缓冲。
type responseWriter struct {
	ex *exchange.Exchange
}

func (w responseWriter) Header() http.Header { return w.ex.Header() }

func (w responseWriter) Write(p []byte) (int, error) { return w.ex.Write(p) }

func (w responseWriter) WriteHeader(code int) { w.ex.SetStatus(code) }
