package services

import (
	"net/http"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
)

// Roles 返回已认证账号的角色。GET /roles/<name> 只允许查询自己。
type Roles struct{}

func (Roles) Handle(ex *exchange.Exchange) error {
	if !allowMethods(ex, http.MethodGet, http.MethodHead) {
		return nil
	}
	acc := ex.Account()
	if acc == nil {
		ex.SetInError(http.StatusUnauthorized, "not authenticated")
		return nil
	}
	if name := subpath(ex); name != "" && name != acc.Name {
		ex.SetInError(http.StatusForbidden, "roles of other accounts are not visible")
		return nil
	}
	roles := acc.Roles
	if roles == nil {
		roles = []string{}
	}
	return ex.WriteJSON(http.StatusOK, map[string]any{
		"authenticated": true,
		"name":          acc.Name,
		"roles":         roles,
	})
}
