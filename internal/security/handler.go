// Package security 实现请求链中的认证与授权节点。
//
// 认证总是执行：先尝试令牌管理器，再按优先级依次尝试认证器，任一认证器给出明确结论即停止。
// 授权要求没有任何否决者拒绝，并且至少一个许可者允许。
package security

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
	"github.com/SoftInstigate/restheart-sub016/pkg/pipeline"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// 令牌相关响应头。
const (
	HeaderAuthToken         = "Auth-Token"
	HeaderAuthTokenValid    = "Auth-Token-Valid-Until"
	HeaderAuthTokenLocation = "Auth-Token-Location"
)

// Handler 是安全检查链节点。
type Handler struct {
	pipeline.Link
	source pipeline.RegistrySource
	audit  *slog.Logger
	log    *slog.Logger
}

// NewHandler 创建安全检查节点，认证与授权插件从交换固定的快照读取，未固定时取 source 的当前快照。
func NewHandler(source pipeline.RegistrySource) *Handler {
	return &Handler{
		source: source,
		audit:  logger.Audit(),
		log:    logger.Named("security"),
	}
}

// HandleRequest 实现 pipeline.Handler。
func (h *Handler) HandleRequest(ex *exchange.Exchange) error {
	if ex.Blocked() {
		h.deny(ex, http.StatusTooManyRequests, "too many requests", "blocked")
		return nil
	}
	reg := pipeline.SnapshotOf(h.source, ex)
	tm := tokenManager(reg)
	outcome := h.authenticate(reg, tm, ex)
	authorizers := reg.All(plugin.KindAuthorizer)

	if outcome == plugin.NotAuthenticated && authenticationRequired(authorizers, ex) {
		h.challenge(reg, tm, ex)
		h.deny(ex, http.StatusUnauthorized, "authentication failed", "authentication_failed")
		return nil
	}
	if !authorized(authorizers, ex) {
		if ex.Account() == nil {
			h.challenge(reg, tm, ex)
			h.deny(ex, http.StatusUnauthorized, "authentication required", "authentication_required")
		} else {
			h.deny(ex, http.StatusForbidden, "access denied", "permission_denied")
		}
		return nil
	}
	if acc := ex.Account(); acc != nil && tm != nil {
		h.issue(tm, acc, ex)
	}
	return h.Next(ex)
}

func (h *Handler) authenticate(reg *plugin.Registry, tm plugin.TokenManager, ex *exchange.Exchange) plugin.AuthOutcome {
	if tm != nil {
		if outcome := h.attempt("token-manager", tm, ex); outcome != plugin.NotAttempted {
			return outcome
		}
	}
	for _, rec := range reg.All(plugin.KindAuthenticator) {
		if outcome := h.attempt(rec.Name, rec.Instance.(plugin.Authenticator), ex); outcome != plugin.NotAttempted {
			return outcome
		}
	}
	return plugin.NotAttempted
}

func (h *Handler) attempt(name string, a plugin.Authenticator, ex *exchange.Exchange) plugin.AuthOutcome {
	outcome, err := a.Authenticate(ex)
	if err != nil {
		h.log.Debug("认证失败",
			slog.String("authenticator", name),
			slog.String("exchange_id", ex.ID()),
			slog.Any("error", err))
		return plugin.NotAuthenticated
	}
	if outcome == plugin.Authenticated && ex.Account() == nil {
		h.log.Warn("认证器声明成功但未设置账号", slog.String("authenticator", name))
		return plugin.NotAuthenticated
	}
	return outcome
}

func (h *Handler) challenge(reg *plugin.Registry, tm plugin.TokenManager, ex *exchange.Exchange) {
	for _, rec := range reg.All(plugin.KindAuthenticator) {
		rec.Instance.(plugin.Authenticator).Challenge(ex)
	}
	if tm != nil {
		tm.Challenge(ex)
	}
}

func (h *Handler) issue(tm plugin.TokenManager, acc *exchange.Account, ex *exchange.Exchange) {
	token, expires, err := tm.Issue(acc)
	if err != nil {
		h.log.Warn("签发令牌失败", slog.String("account", acc.Name), slog.Any("error", err))
		return
	}
	if token == "" {
		return
	}
	ex.Header().Set(HeaderAuthToken, token)
	ex.Header().Set(HeaderAuthTokenValid, expires.UTC().Format(time.RFC3339))
	ex.Header().Set(HeaderAuthTokenLocation, fmt.Sprintf("/tokens/%s", acc.Name))
}

func (h *Handler) deny(ex *exchange.Exchange, status int, message, event string) {
	ex.SetInError(status, message)
	ex.MarkComplete()
	user := ""
	if acc := ex.Account(); acc != nil {
		user = acc.Name
	}
	h.audit.Warn(event,
		"path", ex.Path(),
		"method", ex.Method(),
		"status", status,
		"user", user,
		"exchange_id", ex.ID(),
	)
}

func tokenManager(reg *plugin.Registry) plugin.TokenManager {
	for _, rec := range reg.All(plugin.KindTokenManager) {
		return rec.Instance.(plugin.TokenManager)
	}
	return nil
}

func authenticationRequired(authorizers []*plugin.Record, ex *exchange.Exchange) bool {
	if len(authorizers) == 0 {
		return true
	}
	for _, rec := range authorizers {
		if rec.Instance.(plugin.Authorizer).IsAuthenticationRequired(ex) {
			return true
		}
	}
	return false
}

func authorized(authorizers []*plugin.Record, ex *exchange.Exchange) bool {
	allowed := false
	for _, rec := range authorizers {
		a := rec.Instance.(plugin.Authorizer)
		ok := a.IsAllowed(ex)
		if rec.Descriptor.AuthorizerType == plugin.Vetoer {
			if !ok {
				return false
			}
			continue
		}
		allowed = allowed || ok
	}
	return allowed
}
