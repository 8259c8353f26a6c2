package interceptors

import (
	"fmt"
	"net/http"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// DefaultMaxContentBytes 是请求体的默认上限。
const DefaultMaxContentBytes = 16 << 20

// ContentSizeLimiter 拒绝超过上限的请求体。
type ContentSizeLimiter struct {
	max int64
}

// Init 读取 max-bytes 配置。
func (l *ContentSizeLimiter) Init(ctx *plugin.ExecutionContext) error {
	if v, ok := number(ctx.Config["max-bytes"]); ok {
		if v <= 0 {
			return fmt.Errorf("max-bytes must be positive, got %v", v)
		}
		l.max = int64(v)
	}
	return nil
}

// Resolve 跳过没有请求体的方法。
func (l *ContentSizeLimiter) Resolve(ex *exchange.Exchange) bool {
	switch ex.Method() {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodDelete:
		return false
	}
	return ex.Request() != nil
}

func (l *ContentSizeLimiter) Handle(ex *exchange.Exchange) error {
	if ex.Request().ContentLength > l.max {
		ex.SetInError(http.StatusRequestEntityTooLarge, "request content too large")
		return nil
	}
	content, err := ex.Content()
	if err != nil {
		return err
	}
	if int64(len(content)) > l.max {
		ex.SetInError(http.StatusRequestEntityTooLarge, "request content too large")
	}
	return nil
}
