package interceptors

import (
	"github.com/google/uuid"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
)

// HeaderRequestID 携带请求标识，客户端提供时沿用。
const HeaderRequestID = "X-Request-Id"

// RequestID 为缺少请求标识的请求生成 UUID，并在响应中回显。
type RequestID struct{}

func (RequestID) Resolve(ex *exchange.Exchange) bool { return ex.Request() != nil }

func (RequestID) Handle(ex *exchange.Exchange) error {
	id := ex.Request().Header.Get(HeaderRequestID)
	if id == "" {
		id = uuid.NewString()
		ex.Request().Header.Set(HeaderRequestID, id)
	}
	ex.Header().Set(HeaderRequestID, id)
	return nil
}
