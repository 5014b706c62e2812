package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"ProofChain/internal/analysis"
	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/observability/metrics"
	"ProofChain/internal/proofs"
	"ProofChain/internal/wallet"
	"ProofChain/pkg/logger"
)

// ErrDiscarded 表示操作在完成前已被取消，其结果未被应用。
var ErrDiscarded = errors.New("operation was cancelled; result discarded")

// Analyzer 产生分析记录，analysis.Gateway 满足该接口。
type Analyzer interface {
	Analyze(ctx context.Context, item analysis.ContentItem) (analysis.Record, error)
}

// Wallet 建立签名身份，wallet.Connector 满足该接口。
type Wallet interface {
	Connect(ctx context.Context) (wallet.Identity, error)
	Disconnect()
}

// Publisher 登记证明，publisher.Publisher 满足该接口。
type Publisher interface {
	Publish(ctx context.Context, fp proofs.Fingerprint, identity wallet.Identity) (proofs.Receipt, error)
}

// Hasher 从分析记录派生指纹。
type Hasher func(record analysis.Record) (proofs.Fingerprint, error)

// Option 定义控制器的可选配置。
type Option func(*Controller)

// WithHasher 替换指纹函数。
func WithHasher(h Hasher) Option {
	return func(c *Controller) {
		if h != nil {
			c.hasher = h
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// Controller 驱动单个会话的内容到证明流程。
type Controller struct {
	analyzer  Analyzer
	wallet    Wallet
	publisher Publisher
	hasher    Hasher
	log       *slog.Logger

	mu       sync.Mutex
	state    State
	failure  error
	item     *analysis.ContentItem
	record   *analysis.Record
	fp       *proofs.Fingerprint
	identity *wallet.Identity
	receipt  *proofs.Receipt

	busy   bool
	epoch  uint64
	cancel context.CancelFunc
}

// New 创建处于 Idle 状态的控制器。
func New(analyzer Analyzer, w Wallet, pub Publisher, opts ...Option) *Controller {
	c := &Controller{
		analyzer:  analyzer,
		wallet:    w,
		publisher: pub,
		hasher:    proofs.Compute,
		log:       logger.Named("workflow"),
		state:     StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func invalidTransition(op string, from State) error {
	return xerrors.New(xerrors.CodeInvalidStateTransition,
		op+" is not allowed in state "+string(from),
		xerrors.WithStage(op),
		xerrors.WithMetadata("state", string(from)))
}

// Submit 保存待分析内容。仅允许在 Idle 或 Failed 状态下调用，
// 从 Failed 调用会丢弃上一轮的全部结果。
func (c *Controller) Submit(item analysis.ContentItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return invalidTransition("submit", c.state)
	}
	if c.state != StateIdle && c.state != StateFailed {
		return invalidTransition("submit", c.state)
	}
	c.clearLocked()
	if err := item.Validate(); err != nil {
		c.failLocked(xerrors.Wrap(xerrors.CodeInputInvalid, err, "", xerrors.WithStage("submit")))
		return c.failure
	}
	stored := item
	stored.Data = append([]byte(nil), item.Data...)
	c.item = &stored
	c.transitionLocked(StateContentSubmitted)
	return nil
}

// begin 在持锁状态下校验前置状态并登记一个进行中的操作。
func (c *Controller) begin(ctx context.Context, op string, want State) (context.Context, uint64, error) {
	if c.busy || c.state != want {
		return nil, 0, invalidTransition(op, c.state)
	}
	opCtx, cancel := context.WithCancel(ctx)
	c.epoch++
	c.busy = true
	c.cancel = cancel
	return opCtx, c.epoch, nil
}

// finish 在持锁状态下结束操作；返回 false 表示结果已过期需丢弃。
// 调用方上下文已取消时同样丢弃结果，状态保持不变。
func (c *Controller) finish(ctx context.Context, token uint64) bool {
	if token != c.epoch {
		return false
	}
	if ctx.Err() != nil {
		c.epoch++
	}
	c.busy = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return ctx.Err() == nil
}

// Analyze 调用分析网关并立即计算指纹。
func (c *Controller) Analyze(ctx context.Context) (analysis.Record, proofs.Fingerprint, error) {
	c.mu.Lock()
	opCtx, token, err := c.begin(ctx, "analyze", StateContentSubmitted)
	if err != nil {
		c.mu.Unlock()
		return analysis.Record{}, proofs.Fingerprint{}, err
	}
	item := *c.item
	c.mu.Unlock()

	record, err := c.analyzer.Analyze(opCtx, item)
	var fp proofs.Fingerprint
	if err == nil {
		fp, err = c.hasher(record)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(ctx, token) {
		c.log.Info("丢弃已取消的分析结果")
		return analysis.Record{}, proofs.Fingerprint{}, ErrDiscarded
	}
	if err != nil {
		c.failLocked(err)
		return analysis.Record{}, proofs.Fingerprint{}, err
	}
	stored := record.Clone()
	c.record = &stored
	c.fp = &fp
	// 分析完成后不再保留原始内容。
	c.item = nil
	c.transitionLocked(StateAnalyzed, slog.String("fingerprint", fp.Hex()))
	return record.Clone(), fp, nil
}

// Connect 建立钱包身份。
func (c *Controller) Connect(ctx context.Context) (wallet.Identity, error) {
	c.mu.Lock()
	opCtx, token, err := c.begin(ctx, "connect", StateAnalyzed)
	if err != nil {
		c.mu.Unlock()
		return wallet.Identity{}, err
	}
	c.mu.Unlock()

	identity, err := c.wallet.Connect(opCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(ctx, token) {
		c.log.Info("丢弃已取消的钱包连接结果")
		return wallet.Identity{}, ErrDiscarded
	}
	if err != nil {
		c.failLocked(err)
		return wallet.Identity{}, err
	}
	c.identity = &identity
	c.transitionLocked(StateWalletConnected,
		slog.String("address", identity.Address.Hex()),
		slog.Uint64("chain_id", identity.ChainID))
	return identity, nil
}

// Publish 登记分析阶段得到的指纹，不会重新计算。
func (c *Controller) Publish(ctx context.Context) (proofs.Receipt, error) {
	c.mu.Lock()
	opCtx, token, err := c.begin(ctx, "publish", StateWalletConnected)
	if err != nil {
		c.mu.Unlock()
		return proofs.Receipt{}, err
	}
	fp := *c.fp
	identity := *c.identity
	c.mu.Unlock()

	receipt, err := c.publisher.Publish(opCtx, fp, identity)
	if err == nil && (receipt.Fingerprint != fp || receipt.Address != identity.Address) {
		err = xerrors.New(xerrors.CodeUnknown, "registry receipt does not match the submitted proof", xerrors.WithStage("publish"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(ctx, token) {
		c.log.Info("丢弃已取消的发布结果")
		return proofs.Receipt{}, ErrDiscarded
	}
	if err != nil {
		c.failLocked(err)
		return proofs.Receipt{}, err
	}
	c.receipt = &receipt
	c.transitionLocked(StateProofPublished,
		slog.String("fingerprint", fp.Hex()),
		slog.String("tx", receipt.TransactionID))
	return receipt, nil
}

// Run 依次执行 Submit、Analyze、Connect、Publish。
func (c *Controller) Run(ctx context.Context, item analysis.ContentItem) (proofs.Receipt, error) {
	if err := c.Submit(item); err != nil {
		return proofs.Receipt{}, err
	}
	if _, _, err := c.Analyze(ctx); err != nil {
		return proofs.Receipt{}, err
	}
	if _, err := c.Connect(ctx); err != nil {
		return proofs.Receipt{}, err
	}
	return c.Publish(ctx)
}

// Cancel 放弃进行中的操作，状态保持不变。没有进行中的操作时返回 false。
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked()
}

func (c *Controller) cancelLocked() bool {
	if !c.busy {
		return false
	}
	c.epoch++
	c.busy = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.log.Info("进行中的操作已取消", slog.String("state", string(c.state)))
	return true
}

// Reset 取消进行中的操作，断开钱包并回到 Idle。
func (c *Controller) Reset() {
	c.mu.Lock()
	c.cancelLocked()
	c.clearLocked()
	c.transitionLocked(StateIdle)
	c.mu.Unlock()
	if c.wallet != nil {
		c.wallet.Disconnect()
	}
}

// State 返回当前状态。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err 返回导致 Failed 的原始错误。
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Snapshot 返回当前状态的副本。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{State: c.state, Busy: c.busy}
	if c.failure != nil {
		snap.FailureCode = xerrors.CodeOf(c.failure)
		snap.FailureReason = c.failure.Error()
		snap.Hint = xerrors.Hint(c.failure)
	}
	if c.record != nil {
		record := c.record.Clone()
		snap.Record = &record
	}
	if c.fp != nil {
		fp := *c.fp
		snap.Fingerprint = &fp
	}
	if c.identity != nil {
		identity := *c.identity
		snap.Identity = &identity
	}
	if c.receipt != nil {
		receipt := *c.receipt
		snap.Receipt = &receipt
	}
	return snap
}

func (c *Controller) clearLocked() {
	c.failure = nil
	c.item = nil
	c.record = nil
	c.fp = nil
	c.identity = nil
	c.receipt = nil
}

func (c *Controller) failLocked(err error) {
	from := c.state
	c.failure = err
	c.state = StateFailed
	metrics.ObserveTransition(string(StateFailed))
	c.log.Warn("工作流失败",
		slog.String("from", string(from)),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.Any("error", err))
}

func (c *Controller) transitionLocked(to State, attrs ...any) {
	from := c.state
	c.state = to
	metrics.ObserveTransition(string(to))
	c.log.Info("工作流状态变更", append([]any{slog.String("from", string(from)), slog.String("to", string(to))}, attrs...)...)
}
