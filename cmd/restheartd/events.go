package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/SoftInstigate/restheart-sub016/internal/config"
	"github.com/SoftInstigate/restheart-sub016/internal/events"
	"github.com/SoftInstigate/restheart-sub016/internal/providers"
)

func newEventsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "交换事件队列相关操作",
	}
	var workers int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "持续消费事件队列并逐行输出 JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			consumer, err := dialConsumer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer consumer.Close()
			err = consumer.Consume(cmd.Context(), workers, printEvents(cmd.OutOrStdout()))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	tail.Flags().IntVar(&workers, "workers", 1, "并发消费协程数")
	cmd.AddCommand(tail)
	return cmd
}

// dialConsumer 按 events 插件的配置连接外部队列。未单独配置地址时沿用 redis、rabbitmq 插件的连接配置。
func dialConsumer(ctx context.Context, cfg *config.Config) (events.Consumer, error) {
	ec, err := providers.ParseEventsConfig(cfg.Plugins.ConfigFor(providers.NameEvents))
	if err != nil {
		return nil, fmt.Errorf("解析 events 配置失败: %w", err)
	}
	switch ec.Driver {
	case providers.DriverRedis:
		if ec.Redis.Address == "" {
			shared := cfg.Plugins.ConfigFor(providers.NameRedis)
			ec.Redis.Address, _ = shared["address"].(string)
			ec.Redis.Password, _ = shared["password"].(string)
		}
		return events.DialRedis(ctx, ec.Redis)
	case providers.DriverRabbitMQ:
		if ec.RabbitMQ.URL == "" {
			ec.RabbitMQ.URL, _ = cfg.Plugins.ConfigFor(providers.NameRabbitMQ)["url"].(string)
		}
		return events.DialRabbitMQ(ec.RabbitMQ)
	case "", providers.DriverMemory:
		return nil, errors.New("内存事件队列只能在服务器进程内消费，请改用 redis 或 rabbitmq 驱动")
	default:
		return nil, fmt.Errorf("未知的事件队列驱动: %s", ec.Driver)
	}
}

func printEvents(out io.Writer) events.Handler {
	var mu sync.Mutex
	return func(_ context.Context, payload []byte) error {
		ev, err := events.Decode(payload)
		if err != nil {
			return err
		}
		line, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = fmt.Fprintln(out, string(line))
		return err
	}
}
