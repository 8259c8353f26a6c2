package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// Rule 允许持有 Role 的请求访问 Path 前缀下的资源。Methods 为空表示所有方法；
// Path 中的 {username} 会替换为当前账号名。
type Rule struct {
	Role    string
	Path    string
	Methods []string
}

// DefaultRules 在未配置规则时使用：admin 可访问全部资源，任何已认证账号可以访问自己的角色与令牌。
func DefaultRules() []Rule {
	return []Rule{
		{Role: "admin", Path: "/"},
		{Role: "*", Path: "/roles/{username}", Methods: []string{http.MethodGet}},
		{Role: "*", Path: "/tokens/{username}"},
	}
}

func (r Rule) matches(method, path string, acc *exchange.Account) bool {
	switch r.Role {
	case "*":
		if acc == nil {
			return false
		}
	default:
		if !acc.HasRole(r.Role) {
			return false
		}
	}
	if len(r.Methods) > 0 && !slices.ContainsFunc(r.Methods, func(m string) bool { return strings.EqualFold(m, method) }) {
		return false
	}
	prefix := r.Path
	if strings.Contains(prefix, "{username}") {
		if acc == nil {
			return false
		}
		prefix = strings.ReplaceAll(prefix, "{username}", acc.Name)
	}
	return hasPathPrefix(path, prefix)
}

// hasPathPrefix 按路径段匹配前缀，/tokens 匹配 /tokens 与 /tokens/x，不匹配 /tokensx。
func hasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// ACLAuthorizer 按角色规则授权。匹配 $unauthenticated 角色的规则允许匿名访问。
type ACLAuthorizer struct {
	rules []Rule
}

// Init 读取 rules 配置。
func (a *ACLAuthorizer) Init(ctx *plugin.ExecutionContext) error {
	raw, ok := ctx.Config["rules"]
	if !ok {
		return nil
	}
	rules, err := parseRules(raw)
	if err != nil {
		return fmt.Errorf("aclAuthorizer: %w", err)
	}
	a.rules = rules
	return nil
}

func parseRules(raw any) ([]Rule, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, errors.New("rules must be a list")
	}
	rules := make([]Rule, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rule %d must be a mapping", i)
		}
		r := Rule{}
		r.Role, _ = m["role"].(string)
		r.Path, _ = m["path"].(string)
		if r.Role == "" || !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("rule %d needs a role and a path starting with /", i)
		}
		if methods, ok := m["methods"].([]any); ok {
			for _, method := range methods {
				s, ok := method.(string)
				if !ok {
					return nil, fmt.Errorf("rule %d: methods must be strings", i)
				}
				r.Methods = append(r.Methods, strings.ToUpper(s))
			}
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Rules 返回生效的规则副本。
func (a *ACLAuthorizer) Rules() []Rule { return slices.Clone(a.rules) }

func (a *ACLAuthorizer) IsAllowed(ex *exchange.Exchange) bool {
	return slices.ContainsFunc(a.rules, func(r Rule) bool { return r.matches(ex.Method(), ex.Path(), ex.Account()) })
}

// IsAuthenticationRequired 在存在匹配的匿名规则时返回 false。
func (a *ACLAuthorizer) IsAuthenticationRequired(ex *exchange.Exchange) bool {
	return !slices.ContainsFunc(a.rules, func(r Rule) bool {
		return r.Role == exchange.RoleUnauthenticated && r.matches(ex.Method(), ex.Path(), nil)
	})
}

// AllowAll 允许所有请求，也不要求认证。
type AllowAll struct{}

func (AllowAll) IsAllowed(*exchange.Exchange) bool { return true }

func (AllowAll) IsAuthenticationRequired(*exchange.Exchange) bool { return false }
