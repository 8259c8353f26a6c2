// Package providers 实现向其他插件提供共享资源的 provider 插件：账号目录、JWT 密钥、
// 事件生产者以及 Redis、RabbitMQ、MySQL、PostgreSQL、MongoDB 连接。
//
// 基础设施类 provider 默认关闭，在配置中启用后才会建立连接。
package providers

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// Pinger 由持有外部连接的 provider 实现，供健康检查使用。
type Pinger interface {
	Ping(ctx context.Context) error
}

// decode 将插件配置解码到结构体，复用 viper 的 mapstructure 钩子（时长、切片等）。
func decode(cfg map[string]any, out any) error {
	v := viper.New()
	if err := v.MergeConfigMap(cfg); err != nil {
		return fmt.Errorf("merge plugin config: %w", err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode plugin config: %w", err)
	}
	return nil
}

func contextOf(ctx *plugin.ExecutionContext) context.Context {
	if ctx == nil || ctx.C == nil {
		return context.Background()
	}
	return ctx.C
}
