package providers

import (
	"errors"
	"log/slog"

	"github.com/SoftInstigate/restheart-sub016/internal/security"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// 未配置账号时使用的默认管理员。
const (
	DefaultAdminName     = "admin"
	DefaultAdminPassword = "secret"
)

// UsersConfig 描述账号来源：文件优先，其次是内联列表。
type UsersConfig struct {
	File  string          `mapstructure:"file"`
	Users []security.User `mapstructure:"users"`
}

// Users 提供账号目录。
type Users struct {
	realm *security.Realm
}

// Init 实现 plugin.Initializable。
func (p *Users) Init(ctx *plugin.ExecutionContext) error {
	var cfg UsersConfig
	if err := decode(ctx.Config, &cfg); err != nil {
		return err
	}
	var err error
	switch {
	case cfg.File != "":
		p.realm, err = security.LoadRealm(cfg.File)
	case len(cfg.Users) > 0:
		p.realm, err = security.NewRealm(cfg.Users)
	default:
		logger.Named("providers").Warn("未配置账号，使用默认管理员账号",
			slog.String("user", DefaultAdminName))
		p.realm, err = security.NewRealm([]security.User{{
			Name:     DefaultAdminName,
			Password: DefaultAdminPassword,
			Roles:    []string{"admin"},
		}})
	}
	return err
}

// Get 实现 plugin.Provider。
func (p *Users) Get(*plugin.Record) (any, error) {
	if p.realm == nil {
		return nil, errors.New("account realm not initialised")
	}
	return p.realm, nil
}
