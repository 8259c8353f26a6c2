package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/SoftInstigate/restheart-sub016/internal/providers"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// 健康状态。
const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

// Health 逐个 ping 持有外部连接的 provider，任一失败即返回 503。
type Health struct {
	handle  plugin.Handle
	timeout time.Duration
}

// Inject 接收注册表句柄。
func (s *Health) Inject(_ plugin.InjectionPoint, value any) error {
	h, ok := value.(plugin.Handle)
	if !ok {
		return errors.New("health service requires a registry handle")
	}
	s.handle = h
	return nil
}

// Init 读取 timeout 配置，如 "500ms"。
func (s *Health) Init(ctx *plugin.ExecutionContext) error {
	raw, ok := ctx.Config["timeout"].(string)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	if d > 0 {
		s.timeout = d
	}
	return nil
}

func (s *Health) Handle(ex *exchange.Exchange) error {
	if !allowMethods(ex, http.MethodGet, http.MethodHead) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ex.Context(), s.timeout)
	defer cancel()

	status := StatusUp
	checks := map[string]string{}
	for _, rec := range s.handle.Current().All(plugin.KindProvider) {
		p, ok := rec.Instance.(providers.Pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			status = StatusDown
			checks[rec.Name] = err.Error()
			continue
		}
		checks[rec.Name] = StatusUp
	}
	code := http.StatusOK
	if status == StatusDown {
		code = http.StatusServiceUnavailable
	}
	return ex.WriteJSON(code, map[string]any{"status": status, "checks": checks})
}
