package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"ProofChain/internal/proofs"
	"ProofChain/pkg/logger"
)

// cacheClient 是 Cached 使用的 Redis 命令子集。
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedOption 定义缓存登记表的可选配置。
type CachedOption func(*Cached)

// WithCachePrefix 设置键前缀。
func WithCachePrefix(prefix string) CachedOption {
	return func(c *Cached) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithCacheTTL 设置回执缓存时长，0 表示不过期。
func WithCacheTTL(ttl time.Duration) CachedOption {
	return func(c *Cached) {
		c.ttl = ttl
	}
}

// Cached 在任意登记表前加一层 Redis 回执缓存。回执一经确认不可变，
// 因此缓存命中即可直接作为登记结果。
type Cached struct {
	inner  Registry
	client cacheClient
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// NewCached 创建缓存登记表。
func NewCached(inner Registry, client redis.Cmdable, opts ...CachedOption) *Cached {
	return newCached(inner, client, opts...)
}

func newCached(inner Registry, client cacheClient, opts ...CachedOption) *Cached {
	c := &Cached{
		inner:  inner,
		client: client,
		prefix: "proofchain:receipt:",
		log:    logger.Named("registry.cache"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ChainID 实现 Registry。
func (c *Cached) ChainID() uint64 { return c.inner.ChainID() }

func (c *Cached) key(fp proofs.Fingerprint, owner common.Address) string {
	return c.prefix + proofs.PairKey(fp, owner)
}

// Lookup 实现 Registry，优先读取缓存。
func (c *Cached) Lookup(ctx context.Context, fp proofs.Fingerprint, owner common.Address) (proofs.Receipt, error) {
	if receipt, ok := c.cached(ctx, fp, owner); ok {
		return receipt, nil
	}
	receipt, err := c.inner.Lookup(ctx, fp, owner)
	if err != nil {
		return proofs.Receipt{}, err
	}
	c.store(ctx, receipt)
	return receipt, nil
}

// Register 实现 Registry。缓存命中时直接返回 AlreadyRegisteredError。
func (c *Cached) Register(ctx context.Context, sub proofs.Submission, opts *bind.TransactOpts) (proofs.Receipt, error) {
	if receipt, ok := c.cached(ctx, sub.Fingerprint, sub.Address); ok {
		return proofs.Receipt{}, &AlreadyRegisteredError{Receipt: receipt}
	}
	receipt, err := c.inner.Register(ctx, sub, opts)
	if err != nil {
		if existing, ok := AsAlreadyRegistered(err); ok {
			c.store(ctx, existing)
		}
		return proofs.Receipt{}, err
	}
	c.store(ctx, receipt)
	return receipt, nil
}

func (c *Cached) cached(ctx context.Context, fp proofs.Fingerprint, owner common.Address) (proofs.Receipt, bool) {
	raw, err := c.client.Get(ctx, c.key(fp, owner)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("读取回执缓存失败", slog.Any("error", err))
		}
		return proofs.Receipt{}, false
	}
	var receipt proofs.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		c.log.Warn("回执缓存内容损坏", slog.Any("error", err))
		return proofs.Receipt{}, false
	}
	return receipt, true
}

func (c *Cached) store(ctx context.Context, receipt proofs.Receipt) {
	payload, err := json.Marshal(receipt)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(receipt.Fingerprint, receipt.Address), payload, c.ttl).Err(); err != nil {
		c.log.Warn("写入回执缓存失败", slog.Any("error", err))
	}
}
