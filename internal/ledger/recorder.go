package ledger

import (
	"context"
	"log/slog"
	"strconv"

	"ProofChain/internal/events"
	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/observability/alerting"
	"ProofChain/internal/observability/metrics"
	"ProofChain/internal/storage/receiptdb"
	"ProofChain/pkg/logger"
)

// Recorder 从事件总线消费回执并持久化。
type Recorder struct {
	store       receiptdb.Store
	consumer    events.Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// Option 定义可选配置。
type Option func(*Recorder)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) Option {
	return func(r *Recorder) {
		if workers > 0 {
			r.workerCount = workers
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = l
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(r *Recorder) {
		r.alerter = dispatcher
	}
}

// NewRecorder 构造 Recorder。
func NewRecorder(store receiptdb.Store, consumer events.Consumer, opts ...Option) *Recorder {
	r := &Recorder{store: store, consumer: consumer, workerCount: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = logger.Named("ledger")
	}
	return r
}

// Start 阻塞消费事件，直到 ctx 结束。
func (r *Recorder) Start(ctx context.Context) error {
	if r.consumer == nil || r.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "账本记录器未初始化")
	}
	return r.consumer.Consume(ctx, r.workerCount, r.Handle)
}

// Handle 处理单条事件。返回错误时由总线决定是否重投。
func (r *Recorder) Handle(ctx context.Context, event events.Event) error {
	if event.Type != events.TypeProofPublished {
		r.logger.Debug("忽略未知事件", slog.String("event_id", event.ID), slog.String("type", event.Type))
		metrics.ObserveLedger("skipped")
		return nil
	}
	receipt := event.Receipt
	if receipt.Fingerprint.IsZero() || receipt.TransactionID == "" {
		r.logger.Warn("事件缺少回执字段", slog.String("event_id", event.ID))
		metrics.ObserveLedger("skipped")
		return nil
	}

	inserted, err := r.store.Save(ctx, receipt)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入回执失败",
			xerrors.WithStage("ledger"),
			xerrors.WithMetadata("event_id", event.ID),
		)
		metrics.ObserveLedger("error")
		r.logger.Error("记录回执失败",
			slog.Any("error", wrapped),
			slog.String("event_id", event.ID),
			slog.Int("attempts", event.Attempts),
		)
		if event.Attempts+1 >= events.MaxDeliveries {
			r.emitAlert(ctx, event, wrapped)
		}
		return wrapped
	}

	if !inserted {
		metrics.ObserveLedger("duplicate")
		r.logger.Debug("回执已存在", slog.String("fingerprint", receipt.Fingerprint.Hex()))
		return nil
	}
	metrics.ObserveLedger("recorded")
	logger.Audit().Info("回执已入账",
		slog.String("event_id", event.ID),
		slog.String("fingerprint", receipt.Fingerprint.Hex()),
		slog.String("address", receipt.Address.Hex()),
		slog.String("chain_id", strconv.FormatUint(receipt.ChainID, 10)),
		slog.String("tx_id", receipt.TransactionID),
		slog.Bool("duplicate_publish", event.Duplicate),
	)
	return nil
}

func (r *Recorder) emitAlert(ctx context.Context, event events.Event, err error) {
	if r.alerter == nil {
		return
	}
	alert := alerting.FromError(err, event.Attempts+1, events.MaxDeliveries)
	alert.Fingerprint = event.Receipt.Fingerprint.Hex()
	alert.Address = event.Receipt.Address.Hex()
	alert.ChainID = event.Receipt.ChainID
	if notifyErr := r.alerter.Notify(ctx, alert); notifyErr != nil {
		r.logger.Warn("发送告警失败", slog.Any("error", notifyErr))
	}
}
