// Package auth 实现内置的认证器、令牌管理器与授权器插件。
package auth

import (
	"github.com/SoftInstigate/restheart-sub016/internal/providers"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// 内置安全插件名称。
const (
	NameBasicAuthenticator = "basicAuthenticator"
	NameJWTTokenManager    = "jwtTokenManager"
	NameACLAuthorizer      = "aclAuthorizer"
	NameAllowAllAuthorizer = "allowAllAuthorizer"
)

// DefaultRealm 是认证质询中的 realm。
const DefaultRealm = "RESTHeart Realm"

// Register 将内置安全插件登记到 catalog。
func Register(c *plugin.Catalog) {
	c.MustRegister(plugin.Descriptor{
		Name:             NameBasicAuthenticator,
		Description:      "authenticates requests with HTTP basic credentials",
		Kind:             plugin.KindAuthenticator,
		EnabledByDefault: true,
		Injections: []plugin.InjectionPoint{{
			Target:       plugin.TargetField,
			Name:         providers.NameUsers,
			ExpectedType: providers.TypeRealm,
		}},
	}, func() (any, error) { return &BasicAuthenticator{realm: DefaultRealm}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NameJWTTokenManager,
		Description:      "issues and verifies signed bearer tokens",
		Kind:             plugin.KindTokenManager,
		EnabledByDefault: true,
		Injections: []plugin.InjectionPoint{{
			Target:       plugin.TargetField,
			Name:         providers.NameJWTKey,
			ExpectedType: providers.TypeJWTKey,
		}},
	}, func() (any, error) { return NewJWTTokenManager(), nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NameACLAuthorizer,
		Description:      "grants access by role, path prefix and method",
		Kind:             plugin.KindAuthorizer,
		AuthorizerType:   plugin.Allower,
		EnabledByDefault: true,
	}, func() (any, error) { return &ACLAuthorizer{rules: DefaultRules()}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:           NameAllowAllAuthorizer,
		Description:    "allows every request, authenticated or not",
		Kind:           plugin.KindAuthorizer,
		AuthorizerType: plugin.Allower,
	}, func() (any, error) { return AllowAll{}, nil })
}
