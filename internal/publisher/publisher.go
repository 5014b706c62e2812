package publisher

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"

	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/events"
	"ProofChain/internal/observability/alerting"
	"ProofChain/internal/observability/metrics"
	"ProofChain/internal/proofs"
	"ProofChain/internal/registry"
	"ProofChain/internal/wallet"
	"ProofChain/pkg/logger"
)

// Signer 为身份生成交易签名参数，wallet.Connector 满足该接口。
type Signer interface {
	TransactOpts(ctx context.Context, identity wallet.Identity) (*bind.TransactOpts, error)
}

// Config 控制重试与超时。
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
}

// Option 定义发布器的可选配置。
type Option func(*Publisher)

// WithConfig 覆盖重试配置。
func WithConfig(cfg Config) Option {
	return func(p *Publisher) {
		p.cfg = cfg
	}
}

// WithEvents 设置发布事件的投递目标。
func WithEvents(producer events.Producer) Option {
	return func(p *Publisher) {
		p.events = producer
	}
}

// WithAlerts 设置致命失败的告警分发器。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(p *Publisher) {
		p.alerts = dispatcher
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSleep 替换退避等待函数，便于测试。
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Publisher) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// Publisher 负责把指纹登记到登记表。
type Publisher struct {
	registry registry.Registry
	signer   Signer
	cfg      Config
	events   events.Producer
	alerts   alerting.Dispatcher
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	log      *slog.Logger
}

// New 创建发布器。
func New(reg registry.Registry, signer Signer, opts ...Option) *Publisher {
	p := &Publisher{
		registry: reg,
		signer:   signer,
		now:      time.Now,
		sleep:    sleepContext,
		log:      logger.Named("publisher"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.cfg.applyDefaults()
	return p
}

// ChainID 返回登记表期望的链。
func (p *Publisher) ChainID() uint64 {
	return p.registry.ChainID()
}

// Publish 登记 (fingerprint, identity.Address)，返回确认后的回执。
func (p *Publisher) Publish(ctx context.Context, fp proofs.Fingerprint, identity wallet.Identity) (proofs.Receipt, error) {
	if p == nil || p.registry == nil || p.signer == nil {
		return proofs.Receipt{}, xerrors.New(xerrors.CodeInitializationFailure, "publisher not configured", xerrors.WithStage("publish"))
	}
	if !identity.Connected() {
		return proofs.Receipt{}, xerrors.New(xerrors.CodeNoWalletAvailable, "wallet is not connected", xerrors.WithStage("publish"))
	}
	if fp.IsZero() {
		return proofs.Receipt{}, xerrors.New(xerrors.CodeInputInvalid, "proof hash is empty", xerrors.WithStage("publish"))
	}
	if expected := p.registry.ChainID(); identity.ChainID != expected {
		err := xerrors.New(xerrors.CodeNetworkMismatch,
			"wallet is on chain "+itoa(identity.ChainID)+" but the registry expects chain "+itoa(expected),
			xerrors.WithStage("publish"),
			xerrors.WithMetadata("wallet_chain_id", itoa(identity.ChainID)),
			xerrors.WithMetadata("registry_chain_id", itoa(expected)))
		p.fail(ctx, err, fp, identity, 0)
		return proofs.Receipt{}, err
	}

	opts, err := p.signer.TransactOpts(ctx, identity)
	if err != nil {
		p.fail(ctx, err, fp, identity, 0)
		return proofs.Receipt{}, err
	}

	sub := proofs.Submission{
		Fingerprint: fp,
		Address:     identity.Address,
		ChainID:     identity.ChainID,
		SubmittedAt: p.now().UTC(),
	}
	p.log.Info("开始发布证明",
		slog.String("fingerprint", fp.Hex()),
		slog.String("address", identity.Address.Hex()),
		slog.Uint64("chain_id", identity.ChainID))

	backoff := p.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		receipt, err := p.attempt(ctx, sub, opts)
		if err == nil {
			p.succeed(ctx, receipt, false, attempt)
			return receipt, nil
		}
		if existing, ok := registry.AsAlreadyRegistered(err); ok {
			p.succeed(ctx, existing, true, attempt)
			return existing, nil
		}
		if !xerrors.HasCode(err, xerrors.CodeRegistryUnreachable) || attempt >= p.cfg.MaxAttempts {
			if xerrors.HasCode(err, xerrors.CodeRegistryUnreachable) {
				err = xerrors.Wrap(xerrors.CodeRegistryUnreachable, err,
					"registry unreachable after "+itoa(uint64(attempt))+" attempts",
					xerrors.WithStage("publish"), xerrors.WithRetryable(false))
			}
			p.fail(ctx, err, fp, identity, attempt)
			return proofs.Receipt{}, err
		}

		p.log.Warn("登记表不可达，准备重试",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", err))
		metrics.ObservePublish("retry", 0)
		if sleepErr := p.sleep(ctx, backoff); sleepErr != nil {
			cancelled := xerrors.Wrap(xerrors.CodeRegistryUnreachable, sleepErr, "publish cancelled during backoff",
				xerrors.WithStage("publish"), xerrors.WithRetryable(false))
			p.fail(ctx, cancelled, fp, identity, attempt)
			return proofs.Receipt{}, cancelled
		}
		backoff *= 2
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}
}

func (p *Publisher) attempt(ctx context.Context, sub proofs.Submission, opts *bind.TransactOpts) (proofs.Receipt, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()
	receipt, err := p.registry.Register(attemptCtx, sub, opts)
	if existing, ok := registry.AsAlreadyRegistered(err); ok && existing.TransactionID == "" {
		return proofs.Receipt{}, xerrors.Wrap(xerrors.CodeRegistryUnreachable, err,
			"registry returned an existing proof without a transaction id", xerrors.WithStage("registry"))
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !xerrors.HasCode(err, xerrors.CodeRegistryUnreachable) {
			return proofs.Receipt{}, xerrors.Wrap(xerrors.CodeRegistryUnreachable, err, "registry call timed out", xerrors.WithStage("registry"))
		}
		return proofs.Receipt{}, err
	}
	if receipt.TransactionID == "" {
		return proofs.Receipt{}, xerrors.New(xerrors.CodeRegistryUnreachable, "registry returned an empty transaction id", xerrors.WithStage("registry"))
	}
	return receipt, nil
}

func (p *Publisher) succeed(ctx context.Context, receipt proofs.Receipt, duplicate bool, attempts int) {
	outcome := "success"
	if duplicate {
		outcome = "duplicate"
	}
	metrics.ObservePublish(outcome, attempts)
	logger.Audit().Info("proof_published",
		slog.String("fingerprint", receipt.Fingerprint.Hex()),
		slog.String("address", receipt.Address.Hex()),
		slog.Uint64("chain_id", receipt.ChainID),
		slog.String("tx", receipt.TransactionID),
		slog.Bool("duplicate", duplicate),
		slog.Int("attempts", attempts))

	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, events.NewProofPublished(receipt, duplicate)); err != nil {
		p.log.Warn("投递发布事件失败", slog.String("tx", receipt.TransactionID), slog.Any("error", err))
	}
}

func (p *Publisher) fail(ctx context.Context, err error, fp proofs.Fingerprint, identity wallet.Identity, attempts int) {
	metrics.ObservePublish("failed", attempts)
	logger.Audit().Warn("proof_publish_failed",
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.String("fingerprint", fp.Hex()),
		slog.String("address", identity.Address.Hex()),
		slog.Uint64("chain_id", identity.ChainID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()))

	if p.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	event := alerting.FromError(err, attempts, p.cfg.MaxAttempts)
	event.Fingerprint = fp.Hex()
	event.Address = identity.Address.Hex()
	event.ChainID = identity.ChainID
	if alertErr := p.alerts.Notify(ctx, event); alertErr != nil {
		p.log.Warn("发送告警失败", slog.Any("error", alertErr))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
