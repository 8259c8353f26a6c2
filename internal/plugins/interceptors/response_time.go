package interceptors

import (
	"strconv"
	"time"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
)

// HeaderResponseTime 记录处理耗时，单位毫秒。
const HeaderResponseTime = "X-Response-Time"

// ResponseTime 在响应头中写入处理耗时。
type ResponseTime struct{}

func (ResponseTime) Resolve(*exchange.Exchange) bool { return true }

func (ResponseTime) Handle(ex *exchange.Exchange) error {
	elapsed := time.Since(ex.Started()).Milliseconds()
	ex.Header().Set(HeaderResponseTime, strconv.FormatInt(elapsed, 10)+"ms")
	return nil
}
