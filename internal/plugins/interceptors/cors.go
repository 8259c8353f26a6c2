package interceptors

import (
	"net/http"
	"strings"

	"github.com/SoftInstigate/restheart-sub016/internal/security"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

var exposedHeaders = []string{
	"Location",
	HeaderRequestID,
	HeaderResponseTime,
	security.HeaderAuthToken,
	security.HeaderAuthTokenValid,
	security.HeaderAuthTokenLocation,
}

// CORSHeaders 为跨域请求添加响应头，OPTIONS 预检请求额外返回允许的方法与请求头。
type CORSHeaders struct {
	origin string
}

// Init 读取 allow-origin 配置。
func (c *CORSHeaders) Init(ctx *plugin.ExecutionContext) error {
	if origin, ok := ctx.Config["allow-origin"].(string); ok && origin != "" {
		c.origin = origin
	}
	return nil
}

func (c *CORSHeaders) Resolve(ex *exchange.Exchange) bool {
	return ex.Request() != nil && ex.Request().Header.Get("Origin") != ""
}

func (c *CORSHeaders) Handle(ex *exchange.Exchange) error {
	h := ex.Header()
	h.Set("Access-Control-Allow-Origin", c.origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Expose-Headers", strings.Join(exposedHeaders, ", "))
	if ex.Method() == http.MethodOptions {
		h.Set("Access-Control-Allow-Methods", "GET, PUT, POST, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, Origin, X-Requested-With, "+HeaderRequestID)
	}
	return nil
}
