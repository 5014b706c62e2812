package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ProofChain/pkg/logger"
)

// RedisConfig 描述 Redis 总线的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

type listClient interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Close() error
}

// RedisBus 使用 Redis list 实现事件队列。
type RedisBus struct {
	client listClient
	queue  string
	wait   time.Duration
	log    *slog.Logger
}

// NewRedisBus 创建 Redis 总线实例。
func NewRedisBus(cfg RedisConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisBus(client, cfg.Queue, cfg.BlockWait), nil
}

func newRedisBus(client listClient, queue string, wait time.Duration) *RedisBus {
	if queue == "" {
		queue = "proofchain:events"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisBus{client: client, queue: queue, wait: wait, log: logger.Named("events.redis")}
}

// Publish 将事件投递到 Redis。
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	if err := b.client.LPush(ctx, b.queue, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取事件。
func (b *RedisBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
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
				values, err := b.client.BRPop(ctx, b.wait, b.queue).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- fmt.Errorf("Redis 取事件失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				event, err := Decode([]byte(values[1]))
				if err != nil {
					b.log.Warn("丢弃无法解析的事件", slog.Any("error", err))
					continue
				}
				if handlerErr := handler(ctx, event); handlerErr != nil {
					event.Attempts++
					if event.Attempts >= MaxDeliveries {
						b.log.Error("事件超过最大投递次数", slog.String("event_id", event.ID), slog.Any("error", handlerErr))
						continue
					}
					// 处理失败时重新投递到队尾。
					if payload, encErr := Encode(event); encErr == nil {
						_ = b.client.RPush(ctx, b.queue, payload).Err()
					}
				}
			}
		}()
	}
	// 等待第一个错误或取消信号。
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
