// Package interceptors 实现内置拦截器插件。
package interceptors

import (
	"github.com/SoftInstigate/restheart-sub016/internal/providers"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// 内置拦截器名称。
const (
	NameRequestID          = "requestId"
	NameBruteForceGuard    = "bruteForceGuard"
	NameContentSizeLimiter = "contentSizeLimiter"
	NameCORSHeaders        = "corsHeaders"
	NameResponseTime       = "responseTime"
	NameExchangeEvents     = "exchangeEvents"
)

// Register 将内置拦截器登记到 catalog。
func Register(c *plugin.Catalog) {
	c.MustRegister(plugin.Descriptor{
		Name:             NameRequestID,
		Description:      "assigns a request id to every exchange",
		Kind:             plugin.KindInterceptor,
		Point:            plugin.RequestBeforeExchangeInit,
		Priority:         -100,
		EnabledByDefault: true,
	}, func() (any, error) { return RequestID{}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NameBruteForceGuard,
		Description:      "blocks clients sending credentials too often",
		Kind:             plugin.KindInterceptor,
		Point:            plugin.RequestBeforeAuth,
		EnabledByDefault: true,
	}, func() (any, error) { return NewBruteForceGuard(), nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NameContentSizeLimiter,
		Description:      "rejects request bodies larger than the configured limit",
		Kind:             plugin.KindInterceptor,
		Point:            plugin.RequestAfterAuth,
		RequiresContent:  true,
		EnabledByDefault: true,
	}, func() (any, error) { return &ContentSizeLimiter{max: DefaultMaxContentBytes}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NameCORSHeaders,
		Description:      "adds the CORS response headers",
		Kind:             plugin.KindInterceptor,
		Point:            plugin.Response,
		EnabledByDefault: true,
	}, func() (any, error) { return &CORSHeaders{origin: "*"}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NameResponseTime,
		Description:      "adds the X-Response-Time header",
		Kind:             plugin.KindInterceptor,
		Point:            plugin.Response,
		Priority:         100,
		EnabledByDefault: true,
	}, func() (any, error) { return ResponseTime{}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NameExchangeEvents,
		Description:      "publishes a summary of every completed exchange",
		Kind:             plugin.KindInterceptor,
		Point:            plugin.ResponseAsync,
		EnabledByDefault: true,
		Injections: []plugin.InjectionPoint{{
			Target:       plugin.TargetField,
			Name:         providers.NameEvents,
			ExpectedType: providers.TypeEventsProducer,
		}},
	}, func() (any, error) { return &ExchangeEvents{}, nil })
}
