package providers

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// RabbitMQ 提供共享的 *amqp.Connection。
type RabbitMQ struct {
	conn *amqp.Connection
}

// Init 实现 plugin.Initializable。
func (p *RabbitMQ) Init(ctx *plugin.ExecutionContext) error {
	var cfg struct {
		URL string `mapstructure:"url"`
	}
	if err := decode(ctx.Config, &cfg); err != nil {
		return err
	}
	if cfg.URL == "" {
		return errors.New("RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	p.conn = conn
	return nil
}

// Get 实现 plugin.Provider。
func (p *RabbitMQ) Get(*plugin.Record) (any, error) {
	if p.conn == nil {
		return nil, errors.New("amqp connection not initialised")
	}
	return p.conn, nil
}

// Ping 实现 Pinger。
func (p *RabbitMQ) Ping(context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("RabbitMQ 连接已关闭")
	}
	return nil
}

// Stop 实现 plugin.Stoppable。
func (p *RabbitMQ) Stop(*plugin.ExecutionContext) error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}
