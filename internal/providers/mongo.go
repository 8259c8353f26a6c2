package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// MongoConfig 描述 MongoDB 连接参数。
type MongoConfig struct {
	URI            string        `mapstructure:"connection-string"`
	MaxPoolSize    uint64        `mapstructure:"max-pool-size"`
	MinPoolSize    uint64        `mapstructure:"min-pool-size"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
}

// Mongo 提供共享的 *mongo.Client。
type Mongo struct {
	client *mongo.Client
}

// Init 实现 plugin.Initializable。
func (p *Mongo) Init(ctx *plugin.ExecutionContext) error {
	cfg := MongoConfig{URI: "mongodb://127.0.0.1", ConnectTimeout: 10 * time.Second}
	if err := decode(ctx.Config, &cfg); err != nil {
		return err
	}
	connectCtx, cancel := context.WithTimeout(contextOf(ctx), cfg.ConnectTimeout)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return fmt.Errorf("连接 MongoDB 失败: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("无法连接到 MongoDB: %w", err)
	}
	p.client = client
	return nil
}

// Get 实现 plugin.Provider。
func (p *Mongo) Get(*plugin.Record) (any, error) {
	if p.client == nil {
		return nil, errors.New("mongo client not initialised")
	}
	return p.client, nil
}

// Ping 实现 Pinger。
func (p *Mongo) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, readpref.Primary())
}

// Stop 实现 plugin.Stoppable。
func (p *Mongo) Stop(ctx *plugin.ExecutionContext) error {
	if p.client == nil {
		return nil
	}
	return p.client.Disconnect(contextOf(ctx))
}
