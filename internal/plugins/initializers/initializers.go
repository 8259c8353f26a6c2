// Package initializers 实现在服务启动前后运行的内置初始化插件。
package initializers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SoftInstigate/restheart-sub016/internal/providers"
	"github.com/SoftInstigate/restheart-sub016/internal/security"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// 内置初始化插件名称。
const (
	NameStartupSummary          = "startupSummary"
	NameDefaultCredentialsCheck = "defaultCredentialsCheck"
)

// ErrDefaultCredentials 表示管理员仍在使用默认密码。
var ErrDefaultCredentials = errors.New("the admin account still uses the default password")

// Register 将内置初始化插件登记到 catalog。
func Register(c *plugin.Catalog) {
	c.MustRegister(plugin.Descriptor{
		Name:             NameStartupSummary,
		Description:      "logs the live plugins once the listener is up",
		Kind:             plugin.KindInitializer,
		InitPoint:        plugin.AfterStartup,
		EnabledByDefault: true,
		Injections:       []plugin.InjectionPoint{{Target: plugin.TargetField, Name: plugin.ReservedRegistry}},
	}, func() (any, error) { return &StartupSummary{}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NameDefaultCredentialsCheck,
		Description:      "warns when the admin account keeps the default password",
		Kind:             plugin.KindInitializer,
		InitPoint:        plugin.BeforeStartup,
		EnabledByDefault: true,
		Injections: []plugin.InjectionPoint{{
			Target:       plugin.TargetField,
			Name:         providers.NameUsers,
			ExpectedType: providers.TypeRealm,
		}},
	}, func() (any, error) { return &DefaultCredentialsCheck{}, nil })
}

// StartupSummary 在监听器启动后记录各类插件数量与被排除的插件。
type StartupSummary struct {
	handle plugin.Handle
}

// Inject 接收注册表句柄。
func (s *StartupSummary) Inject(_ plugin.InjectionPoint, value any) error {
	h, ok := value.(plugin.Handle)
	if !ok {
		return errors.New("startupSummary requires a registry handle")
	}
	s.handle = h
	return nil
}

func (s *StartupSummary) Run(context.Context) error {
	log := logger.Named("startup")
	reg := s.handle.Current()
	attrs := make([]any, 0, len(plugin.Kinds())+1)
	for _, kind := range plugin.Kinds() {
		attrs = append(attrs, slog.Int(string(kind), len(reg.All(kind))))
	}
	diags := reg.Diagnostics()
	attrs = append(attrs, slog.Int("excluded", len(diags)))
	log.Info("插件已加载", attrs...)
	for _, d := range diags {
		log.Warn("插件未启用",
			slog.String("kind", string(d.Kind)),
			slog.String("name", d.Name),
			slog.String("code", string(d.Code())),
			slog.Any("error", d.Err))
	}
	return nil
}

// DefaultCredentialsCheck 在启动前检查默认管理员密码，配置 abort 为 true 时拒绝启动。
type DefaultCredentialsCheck struct {
	realm *security.Realm
	abort bool
}

// Inject 接收账号目录。
func (c *DefaultCredentialsCheck) Inject(ip plugin.InjectionPoint, value any) error {
	realm, ok := value.(*security.Realm)
	if !ok {
		return fmt.Errorf("defaultCredentialsCheck: %s does not provide an account realm", ip.Name)
	}
	c.realm = realm
	return nil
}

// Init 读取 abort 配置。
func (c *DefaultCredentialsCheck) Init(ctx *plugin.ExecutionContext) error {
	c.abort, _ = ctx.Config["abort"].(bool)
	return nil
}

func (c *DefaultCredentialsCheck) Run(context.Context) error {
	if !c.realm.Uses(providers.DefaultAdminName, providers.DefaultAdminPassword) {
		return nil
	}
	logger.Named("startup").Warn("管理员账号仍在使用默认密码，请尽快修改",
		slog.String("user", providers.DefaultAdminName))
	if c.abort {
		return ErrDefaultCredentials
	}
	return nil
}
