package handlers

import (
	"github.com/SoftInstigate/restheart-sub016/internal/observability/metrics"
	"github.com/SoftInstigate/restheart-sub016/internal/security"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/pipeline"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// Options 描述装配处理链所需的协作者。
type Options struct {
	Source     pipeline.RegistrySource
	Dispatcher *pipeline.Dispatcher
	Metrics    *metrics.Collector
}

// ServicePipeline 按固定顺序装配服务的处理链：
//
//	Metrics → ErrorGuard → PipelineInfoInjector → RequestLogger → XPoweredBy
//	→ BEFORE_EXCHANGE_INIT → BEFORE_AUTH → Security → AuthHeadersRemover
//	→ AFTER_AUTH → Service → RESPONSE
//
// Security 节点只在服务需要安全检查时出现。RESPONSE_ASYNC 由传输层在响应发送后派发。
func ServicePipeline(opts Options, rec *plugin.Record) pipeline.Handler {
	d := opts.Dispatcher
	var sec pipeline.Chainable
	if Secure(rec) {
		sec = security.NewHandler(opts.Source)
	}
	return pipeline.Pipe(
		NewMetrics(opts.Metrics),
		NewErrorGuard(),
		PipelineInfoInjector(exchange.PipelineInfo{Type: exchange.PipelineService, Name: rec.Name, URI: Route(rec)}),
		NewRequestLogger(),
		XPoweredBy(),
		NewRequestInterceptors(d, plugin.RequestBeforeExchangeInit, true),
		NewRequestInterceptors(d, plugin.RequestBeforeAuth, false),
		sec,
		AuthHeadersRemover(),
		NewRequestInterceptors(d, plugin.RequestAfterAuth, false),
		NewServiceHandler(opts.Source, rec.Name),
		NewResponseInterceptors(d),
	)
}
