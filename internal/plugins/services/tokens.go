package services

import (
	"errors"
	"net/http"

	"github.com/SoftInstigate/restheart-sub016/internal/security"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// Tokens 暴露当前账号的令牌：GET /tokens/<name> 返回令牌，DELETE 使其失效。
// 令牌本身由安全检查节点在认证成功后写入响应头。
type Tokens struct {
	handle plugin.Handle
}

// Inject 接收注册表句柄。
func (s *Tokens) Inject(_ plugin.InjectionPoint, value any) error {
	h, ok := value.(plugin.Handle)
	if !ok {
		return errors.New("tokens service requires a registry handle")
	}
	s.handle = h
	return nil
}

func (s *Tokens) Handle(ex *exchange.Exchange) error {
	if !allowMethods(ex, http.MethodGet, http.MethodDelete) {
		return nil
	}
	acc := ex.Account()
	if acc == nil {
		ex.SetInError(http.StatusUnauthorized, "not authenticated")
		return nil
	}
	name := subpath(ex)
	if name == "" {
		ex.Header().Set("Location", "/tokens/"+acc.Name)
		ex.SetStatus(http.StatusSeeOther)
		return nil
	}
	if name != acc.Name {
		ex.SetInError(http.StatusForbidden, "tokens of other accounts are not accessible")
		return nil
	}

	var tm plugin.TokenManager
	if recs := s.handle.Current().All(plugin.KindTokenManager); len(recs) > 0 {
		tm = recs[0].Instance.(plugin.TokenManager)
	}
	if tm == nil {
		ex.SetInError(http.StatusNotFound, "no token manager is enabled")
		return nil
	}

	if ex.Method() == http.MethodDelete {
		tm.Invalidate(acc)
		for _, h := range []string{security.HeaderAuthToken, security.HeaderAuthTokenValid, security.HeaderAuthTokenLocation} {
			ex.Header().Del(h)
		}
		ex.SetStatus(http.StatusNoContent)
		return nil
	}
	return ex.WriteJSON(http.StatusOK, map[string]string{
		"auth_token":             ex.Header().Get(security.HeaderAuthToken),
		"auth_token_valid_until": ex.Header().Get(security.HeaderAuthTokenValid),
	})
}
