// Package services 实现内置服务插件：ping、插件自省、健康检查、指标、角色与令牌。
package services

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/SoftInstigate/restheart-sub016/internal/observability/metrics"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// 内置服务名称。
const (
	NamePing    = "ping"
	NamePlugins = "plugins"
	NameHealth  = "health"
	NameMetrics = "metrics"
	NameRoles   = "roles"
	NameTokens  = "tokens"
)

func injectConfig() plugin.InjectionPoint {
	return plugin.InjectionPoint{Target: plugin.TargetField, Name: plugin.ReservedConfig}
}

func injectRegistry() plugin.InjectionPoint {
	return plugin.InjectionPoint{Target: plugin.TargetField, Name: plugin.ReservedRegistry}
}

// Register 将内置服务登记到 catalog。collector 为 nil 时不登记 metrics 服务。
func Register(c *plugin.Catalog, collector *metrics.Collector) {
	c.MustRegister(plugin.Descriptor{
		Name:             NamePing,
		Description:      "ping service",
		Kind:             plugin.KindService,
		DefaultRoute:     "/ping",
		EnabledByDefault: true,
		Injections:       []plugin.InjectionPoint{injectConfig()},
	}, func() (any, error) { return &Ping{msg: DefaultPingMessage}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NamePlugins,
		Description:      "lists the live plugins and the ones excluded at bootstrap",
		Kind:             plugin.KindService,
		DefaultRoute:     "/plugins",
		Secure:           true,
		EnabledByDefault: true,
		Injections:       []plugin.InjectionPoint{injectRegistry()},
	}, func() (any, error) { return &Plugins{}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NameHealth,
		Description:      "pings the providers holding external connections",
		Kind:             plugin.KindService,
		DefaultRoute:     "/health",
		EnabledByDefault: true,
		Injections:       []plugin.InjectionPoint{injectRegistry()},
	}, func() (any, error) { return &Health{timeout: 2 * time.Second}, nil })

	if collector != nil {
		c.MustRegister(plugin.Descriptor{
			Name:             NameMetrics,
			Description:      "prometheus metrics",
			Kind:             plugin.KindService,
			DefaultRoute:     "/metrics",
			EnabledByDefault: true,
			DontIntercept:    []plugin.InterceptPoint{plugin.ResponseAsync},
		}, func() (any, error) { return &Metrics{collector: collector}, nil })
	}

	c.MustRegister(plugin.Descriptor{
		Name:             NameRoles,
		Description:      "returns the roles of the authenticated account",
		Kind:             plugin.KindService,
		DefaultRoute:     "/roles",
		Secure:           true,
		EnabledByDefault: true,
	}, func() (any, error) { return &Roles{}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NameTokens,
		Description:      "reads and invalidates authentication tokens",
		Kind:             plugin.KindService,
		DefaultRoute:     "/tokens",
		Secure:           true,
		EnabledByDefault: true,
		Injections:       []plugin.InjectionPoint{injectRegistry()},
	}, func() (any, error) { return &Tokens{}, nil })
}

// subpath 返回请求路径中服务路由之后的部分，不含首尾的 /。
func subpath(ex *exchange.Exchange) string {
	rest := strings.TrimPrefix(ex.Path(), ex.PipelineInfo().URI)
	return strings.Trim(rest, "/")
}

// allowMethods 在请求方法不被支持时写入 405 并返回 false。
func allowMethods(ex *exchange.Exchange, methods ...string) bool {
	if slices.Contains(methods, ex.Method()) {
		return true
	}
	ex.Header().Set("Allow", strings.Join(methods, ", "))
	ex.SetInError(http.StatusMethodNotAllowed, "method not allowed")
	return false
}
