package events

import (
	"context"
)

// Handler 处理一条事件载荷。
type Handler func(ctx context.Context, payload []byte) error

// Producer 负责向队列投递事件。
type Producer interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Consumer 负责从队列中消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// PublishEvent 序列化并投递事件。
func PublishEvent(ctx context.Context, p Producer, ev Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	return p.Publish(ctx, payload)
}
