// Package plugins 汇总编译进服务器的内置插件。
package plugins

import (
	"github.com/SoftInstigate/restheart-sub016/internal/observability/metrics"
	"github.com/SoftInstigate/restheart-sub016/internal/plugins/auth"
	"github.com/SoftInstigate/restheart-sub016/internal/plugins/initializers"
	"github.com/SoftInstigate/restheart-sub016/internal/plugins/interceptors"
	"github.com/SoftInstigate/restheart-sub016/internal/plugins/services"
	"github.com/SoftInstigate/restheart-sub016/internal/providers"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// Builtin 返回登记了全部内置插件的 catalog。collector 为 nil 时不提供 metrics 服务。
func Builtin(collector *metrics.Collector) *plugin.Catalog {
	c := plugin.NewCatalog()
	providers.Register(c)
	initializers.Register(c)
	auth.Register(c)
	interceptors.Register(c)
	services.Register(c, collector)
	return c
}
