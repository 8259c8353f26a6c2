package services

import (
	"net/http"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// DefaultPingMessage 是未配置 msg 时的应答内容。
const DefaultPingMessage = "Greetings from RESTHeart!"

// Ping 应答固定消息，用于探活。
type Ping struct {
	msg string
}

// Inject 接收服务配置。
func (p *Ping) Inject(_ plugin.InjectionPoint, value any) error {
	cfg, _ := value.(map[string]any)
	if msg, ok := cfg["msg"].(string); ok && msg != "" {
		p.msg = msg
	}
	return nil
}

func (p *Ping) Handle(ex *exchange.Exchange) error {
	if !allowMethods(ex, http.MethodGet, http.MethodHead) {
		return nil
	}
	return ex.WriteJSON(http.StatusOK, map[string]string{"message": p.msg})
}
