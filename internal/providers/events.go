package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/SoftInstigate/restheart-sub016/internal/events"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// 事件队列驱动。
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

// EventsConfig 描述事件队列。注入了 redis 或 rabbitmq provider 时复用其连接，
// 否则按 driver 自行建立连接。
type EventsConfig struct {
	Driver   string                `mapstructure:"driver"`
	Size     int                   `mapstructure:"size"`
	Redis    events.RedisConfig    `mapstructure:"redis"`
	RabbitMQ events.RabbitMQConfig `mapstructure:"rabbitmq"`
}

// Events 提供 events.Producer。内存驱动会在本进程内消费事件并写入审计日志。
type Events struct {
	redisClient *redis.Client
	amqpConn    *amqp.Connection

	driver string
	queue  events.Queue
	cancel context.CancelFunc
	done   chan struct{}
}

// Inject 实现 plugin.Injectable，按注入值的类型选择共享连接。
func (p *Events) Inject(ip plugin.InjectionPoint, value any) error {
	switch v := value.(type) {
	case *redis.Client:
		p.redisClient = v
	case *amqp.Connection:
		p.amqpConn = v
	default:
		return fmt.Errorf("events: unsupported dependency %s of type %T", ip.Name, value)
	}
	return nil
}

// Init 实现 plugin.Initializable。
func (p *Events) Init(ctx *plugin.ExecutionContext) error {
	var cfg EventsConfig
	if err := decode(ctx.Config, &cfg); err != nil {
		return err
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch {
	case p.redisClient != nil:
		driver = DriverRedis
	case p.amqpConn != nil:
		driver = DriverRabbitMQ
	case driver == "":
		driver = DriverMemory
	}

	var err error
	switch driver {
	case DriverMemory:
		p.queue = events.NewMemoryQueue(cfg.Size)
		p.startAuditConsumer()
	case DriverRedis:
		if p.redisClient != nil {
			p.queue, err = events.NewRedisQueue(p.redisClient, cfg.Redis)
		} else {
			p.queue, err = events.DialRedis(contextOf(ctx), cfg.Redis)
		}
	case DriverRabbitMQ:
		if p.amqpConn != nil {
			p.queue, err = events.NewRabbitMQQueue(p.amqpConn, cfg.RabbitMQ)
		} else {
			p.queue, err = events.DialRabbitMQ(cfg.RabbitMQ)
		}
	default:
		return fmt.Errorf("未知的事件队列驱动: %s", cfg.Driver)
	}
	if err != nil {
		return err
	}
	p.driver = driver
	logger.Named("providers").Info("事件队列已就绪", slog.String("driver", driver))
	return nil
}

func (p *Events) startAuditConsumer() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	audit := logger.Audit()
	go func() {
		defer close(p.done)
		_ = p.queue.Consume(ctx, 1, func(_ context.Context, payload []byte) error {
			ev, err := events.Decode(payload)
			if err != nil {
				return err
			}
			audit.Info("exchange",
				slog.String("id", ev.ID),
				slog.String("service", ev.Service),
				slog.String("method", ev.Method),
				slog.String("path", ev.Path),
				slog.Int("status", ev.Status),
				slog.Int64("duration_ms", ev.DurationMS),
				slog.String("account", ev.Account))
			return nil
		})
	}()
}

// Driver 返回实际使用的驱动。
func (p *Events) Driver() string { return p.driver }

// Get 实现 plugin.Provider。
func (p *Events) Get(*plugin.Record) (any, error) {
	if p.queue == nil {
		return nil, errors.New("events queue not initialised")
	}
	return events.Producer(p.queue), nil
}

// Stop 实现 plugin.Stoppable。内存队列先关闭，待审计消费者取完积压事件后退出。
func (p *Events) Stop(ctx *plugin.ExecutionContext) error {
	if p.queue == nil {
		return nil
	}
	err := p.queue.Close()
	if p.done != nil {
		select {
		case <-p.done:
		case <-contextOf(ctx).Done():
		}
		p.cancel()
	}
	return err
}

// ParseEventsConfig 解码 events provider 的配置块，供命令行工具复用。
func ParseEventsConfig(cfg map[string]any) (EventsConfig, error) {
	var out EventsConfig
	err := decode(cfg, &out)
	return out, err
}
