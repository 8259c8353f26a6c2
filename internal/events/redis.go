package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 队列的参数。
type RedisConfig struct {
	Address   string        `mapstructure:"address"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Queue     string        `mapstructure:"queue"`
	BlockWait time.Duration `mapstructure:"block-wait"`
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Queue == "" {
		c.Queue = "restheart:events"
	}
	if c.BlockWait <= 0 {
		c.BlockWait = 5 * time.Second
	}
	return c
}

// RedisQueue 使用 Redis list 实现事件队列。
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
	owned  bool
}

// NewRedisQueue 基于已有客户端创建队列，Close 不会关闭该客户端。
func NewRedisQueue(client *redis.Client, cfg RedisConfig) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("Redis 客户端不能为空")
	}
	cfg = cfg.withDefaults()
	return &RedisQueue{client: client, queue: cfg.Queue, wait: cfg.BlockWait}, nil
}

// DialRedis 建立连接并创建队列，Close 时一并关闭连接。
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	q, err := NewRedisQueue(client, cfg)
	if err != nil {
		return nil, err
	}
	q.owned = true
	return q, nil
}

// Publish 将事件投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.queue, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取事件。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					if errors.Is(err, redis.Nil) {
						continue
					}
					errCh <- fmt.Errorf("Redis 取事件失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				// 事件只投递一次，处理失败不重新入队。
				_ = handler(ctx, []byte(values[1]))
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 仅在连接由队列创建时关闭连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil || !q.owned {
		return nil
	}
	return q.client.Close()
}
