package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/SoftInstigate/restheart-sub016/internal/security"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// BasicAuthenticator 使用 HTTP Basic 凭证在账号目录中验证身份。
type BasicAuthenticator struct {
	users *security.Realm
	realm string
}

// Inject 接收账号目录。
func (a *BasicAuthenticator) Inject(ip plugin.InjectionPoint, value any) error {
	realm, ok := value.(*security.Realm)
	if !ok {
		return fmt.Errorf("basicAuthenticator: %s does not provide an account realm", ip.Name)
	}
	a.users = realm
	return nil
}

// Init 读取 realm 配置。
func (a *BasicAuthenticator) Init(ctx *plugin.ExecutionContext) error {
	if r, ok := ctx.Config["realm"].(string); ok && r != "" {
		a.realm = r
	}
	return nil
}

func (a *BasicAuthenticator) Authenticate(ex *exchange.Exchange) (plugin.AuthOutcome, error) {
	if ex.Request() == nil {
		return plugin.NotAttempted, nil
	}
	name, password, ok := ex.Request().BasicAuth()
	if !ok {
		return plugin.NotAttempted, nil
	}
	acc, err := a.users.Verify(name, password)
	switch {
	case err == nil:
		ex.SetAccount(acc)
		return plugin.Authenticated, nil
	case errors.Is(err, security.ErrInvalidCredentials),
		errors.Is(err, security.ErrUnknownAccount),
		errors.Is(err, security.ErrAccountDisabled):
		logger.Named("auth").Debug("Basic 认证失败", slog.String("user", name), slog.Any("error", err))
		return plugin.NotAuthenticated, nil
	default:
		return plugin.NotAuthenticated, err
	}
}

func (a *BasicAuthenticator) Challenge(ex *exchange.Exchange) {
	ex.Header().Add("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", a.realm))
}
