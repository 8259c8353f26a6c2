package interceptors

import (
	"context"
	"fmt"
	"time"

	"github.com/SoftInstigate/restheart-sub016/internal/events"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// ExchangeEvents 在响应发送后投递请求摘要。
type ExchangeEvents struct {
	producer events.Producer
	timeout  time.Duration
}

// Inject 接收事件生产者。
func (e *ExchangeEvents) Inject(ip plugin.InjectionPoint, value any) error {
	p, ok := value.(events.Producer)
	if !ok {
		return fmt.Errorf("exchangeEvents: %s does not provide an events producer", ip.Name)
	}
	e.producer = p
	e.timeout = 5 * time.Second
	return nil
}

func (e *ExchangeEvents) Resolve(*exchange.Exchange) bool { return e.producer != nil }

func (e *ExchangeEvents) Handle(ex *exchange.Exchange) error {
	ctx, cancel := context.WithTimeout(ex.Context(), e.timeout)
	defer cancel()
	return events.PublishEvent(ctx, e.producer, events.FromExchange(ex))
}
