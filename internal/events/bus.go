package events

import "context"

// MaxDeliveries 是单条事件的最大投递次数。
const MaxDeliveries = 3

// Handler 处理来自总线的事件。
type Handler func(ctx context.Context, event Event) error

// Producer 负责向总线投递事件。
type Producer interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责从总线消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Bus 同时具备生产者与消费者能力。
type Bus interface {
	Producer
	Consumer
}
