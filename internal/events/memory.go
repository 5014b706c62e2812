package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"ProofChain/pkg/logger"
)

// ErrClosed 表示总线已关闭。
var ErrClosed = errors.New("事件总线已关闭")

// MemoryBus 使用 channel 模拟消息队列，适用于单进程部署与测试。
type MemoryBus struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	log       *slog.Logger
}

// NewMemoryBus 创建一个内存总线。
func NewMemoryBus(size int) *MemoryBus {
	if size <= 0 {
		size = 64
	}
	return &MemoryBus{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
		log:  logger.Named("events.memory"),
	}
}

// Publish 将事件投递到总线；缓冲区已满时阻塞，直到上下文结束或总线关闭。
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	// Close 先关闭 done 再获取写锁，阻塞中的发送方会在此处退出并释放读锁。
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	case b.ch <- event:
		return nil
	}
}

// requeue 非阻塞地重新入队；缓冲区已满或总线已关闭时返回 false。
func (b *MemoryBus) requeue(event Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- event:
		return true
	default:
		return false
	}
}

// Consume 启动指定数量的工作协程消费事件，处理失败的事件会在
// MaxDeliveries 次以内重新入队。总线关闭后消费完缓冲区即返回。
func (b *MemoryBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-b.ch:
					if !ok {
						return
					}
					if err := handler(ctx, event); err != nil {
						event.Attempts++
						if event.Attempts >= MaxDeliveries {
							b.log.Error("事件超过最大投递次数", slog.String("event_id", event.ID), slog.Any("error", err))
							continue
						}
						if !b.requeue(event) {
							b.log.Warn("事件重新入队失败，已丢弃", slog.String("event_id", event.ID), slog.Int("attempts", event.Attempts), slog.Any("error", err))
						}
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存总线，唤醒阻塞中的发布方。
func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	b.mu.Lock()
	if !b.closed {
		close(b.ch)
		b.closed = true
	}
	b.mu.Unlock()
	return nil
}
