package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Redis 提供共享的 *redis.Client。
type Redis struct {
	client *redis.Client
}

// Init 实现 plugin.Initializable。
func (p *Redis) Init(ctx *plugin.ExecutionContext) error {
	var cfg RedisConfig
	if err := decode(ctx.Config, &cfg); err != nil {
		return err
	}
	if cfg.Address == "" {
		return errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(contextOf(ctx)).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("连接 Redis 失败: %w", err)
	}
	p.client = client
	return nil
}

// Get 实现 plugin.Provider。
func (p *Redis) Get(*plugin.Record) (any, error) {
	if p.client == nil {
		return nil, errors.New("redis client not initialised")
	}
	return p.client, nil
}

// Ping 实现 Pinger。
func (p *Redis) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Stop 实现 plugin.Stoppable。
func (p *Redis) Stop(*plugin.ExecutionContext) error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
