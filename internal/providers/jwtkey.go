package providers

import (
	"crypto/rand"
	"errors"
	"log/slog"

	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// JWTKey 提供签名令牌使用的 HMAC 密钥。未配置 key 时随机生成，重启后已签发令牌失效。
type JWTKey struct {
	key []byte
}

// Init 实现 plugin.Initializable。
func (p *JWTKey) Init(ctx *plugin.ExecutionContext) error {
	var cfg struct {
		Key string `mapstructure:"key"`
	}
	if err := decode(ctx.Config, &cfg); err != nil {
		return err
	}
	if cfg.Key != "" {
		if len(cfg.Key) < 32 {
			return errors.New("jwt key must be at least 32 bytes long")
		}
		p.key = []byte(cfg.Key)
		return nil
	}
	p.key = make([]byte, 32)
	if _, err := rand.Read(p.key); err != nil {
		return err
	}
	logger.Named("providers").Info("已生成随机 JWT 密钥", slog.String("provider", ctx.Name))
	return nil
}

// Get 实现 plugin.Provider，每个调用方拿到独立副本。
func (p *JWTKey) Get(*plugin.Record) (any, error) {
	if len(p.key) == 0 {
		return nil, errors.New("jwt key not initialised")
	}
	return append([]byte(nil), p.key...), nil
}
