package interceptors

import (
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// BruteForceGuard 按客户端地址限制携带凭证的请求频率，超限的请求被标记为 blocked，
// 由安全检查节点返回 429。
type BruteForceGuard struct {
	mu           sync.Mutex
	visitors     map[string]*visitor
	limit        rate.Limit
	burst        int
	maxClients   int
	idle         time.Duration
	forwardedFor bool
	now          func() time.Time
}

// NewBruteForceGuard 创建限流器，默认每秒 5 次、突发 10 次。
func NewBruteForceGuard() *BruteForceGuard {
	return &BruteForceGuard{
		visitors:   make(map[string]*visitor),
		limit:      rate.Limit(5),
		burst:      10,
		maxClients: 10000,
		idle:       10 * time.Minute,
		now:        time.Now,
	}
}

// Init 读取 rate、burst、max-clients 与 trust-forwarded-for 配置。
func (g *BruteForceGuard) Init(ctx *plugin.ExecutionContext) error {
	if v, ok := number(ctx.Config["rate"]); ok && v > 0 {
		g.limit = rate.Limit(v)
	}
	if v, ok := number(ctx.Config["burst"]); ok && v >= 1 {
		g.burst = int(v)
	}
	if v, ok := number(ctx.Config["max-clients"]); ok && v >= 1 {
		g.maxClients = int(v)
	}
	if v, ok := ctx.Config["trust-forwarded-for"].(bool); ok {
		g.forwardedFor = v
	}
	return nil
}

// Resolve 只拦截携带 Authorization 头的请求。
func (g *BruteForceGuard) Resolve(ex *exchange.Exchange) bool {
	return ex.Request() != nil && ex.Request().Header.Get("Authorization") != ""
}

func (g *BruteForceGuard) Handle(ex *exchange.Exchange) error {
	if !g.allow(g.clientOf(ex)) {
		ex.SetBlocked(true)
	}
	return nil
}

func (g *BruteForceGuard) allow(client string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	v, ok := g.visitors[client]
	if !ok {
		if len(g.visitors) >= g.maxClients {
			g.evict(now)
		}
		v = &visitor{limiter: rate.NewLimiter(g.limit, g.burst)}
		g.visitors[client] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// evict 清理空闲的客户端；仍然超出上限时清空全部记录。
func (g *BruteForceGuard) evict(now time.Time) {
	for k, v := range g.visitors {
		if now.Sub(v.lastSeen) > g.idle {
			delete(g.visitors, k)
		}
	}
	if len(g.visitors) >= g.maxClients {
		clear(g.visitors)
	}
}

func (g *BruteForceGuard) clientOf(ex *exchange.Exchange) string {
	r := ex.Request()
	if g.forwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
