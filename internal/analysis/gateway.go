package analysis

import (
	"bytes"
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/observability/metrics"
	"ProofChain/pkg/logger"
)

// DefaultMaxPayload 与上传接口的 50MB 限制保持一致。
const DefaultMaxPayload int64 = 50 << 20

const defaultTimeout = 30 * time.Second

// Analyzer 是外部分析引擎的最小契约，任何实现（真实模型或桩）都可以接入。
type Analyzer interface {
	Analyze(ctx context.Context, item ContentItem) (Record, error)
}

// AnalyzerFunc 让普通函数满足 Analyzer 接口。
type AnalyzerFunc func(ctx context.Context, item ContentItem) (Record, error)

// Analyze 实现 Analyzer 接口。
func (f AnalyzerFunc) Analyze(ctx context.Context, item ContentItem) (Record, error) {
	return f(ctx, item)
}

// Gateway 负责校验内容、调用分析器并规范化输出。
type Gateway struct {
	analyzer   Analyzer
	maxPayload int64
	timeout    time.Duration
	now        func() time.Time
}

// Option 定义可选的网关配置。
type Option func(*Gateway)

// WithMaxPayload 设置允许的最大原始字节数。
func WithMaxPayload(limit int64) Option {
	return func(g *Gateway) {
		if limit > 0 {
			g.maxPayload = limit
		}
	}
}

// WithTimeout 设置单次分析的超时时间。
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGateway 构造分析网关。
func NewGateway(analyzer Analyzer, opts ...Option) *Gateway {
	g := &Gateway{
		analyzer:   analyzer,
		maxPayload: DefaultMaxPayload,
		timeout:    defaultTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// MaxPayload 返回当前配置的大小上限。
func (g *Gateway) MaxPayload() int64 {
	return g.maxPayload
}

// Analyze 调用外部分析器得到规范化的分析记录。输入内容不会被修改。
func (g *Gateway) Analyze(ctx context.Context, item ContentItem) (Record, error) {
	if g == nil || g.analyzer == nil {
		return Record{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置分析器", xerrors.WithStage("analyze"))
	}
	if _, err := ParseKind(string(item.Kind)); err != nil {
		return Record{}, xerrors.Wrap(xerrors.CodeAnalysisUnavailable, err, "内容类型不受支持", xerrors.WithStage("analyze"))
	}
	if item.Empty() {
		return Record{}, xerrors.New(xerrors.CodeAnalysisUnavailable, "内容为空，无法分析", xerrors.WithStage("analyze"))
	}
	if size := item.ByteSize(); size > g.maxPayload {
		return Record{}, xerrors.New(xerrors.CodePayloadTooLarge,
			fmt.Sprintf("内容大小 %d 字节超过上限 %d 字节", size, g.maxPayload),
			xerrors.WithStage("analyze"))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	input := item
	input.Data = bytes.Clone(item.Data)

	started := g.now()
	record, err := g.analyzer.Analyze(callCtx, input)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveAnalysis(string(item.Kind), outcome, g.now().Sub(started))
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return Record{}, xerrors.Wrap(xerrors.CodeAnalysisUnavailable, err, "分析超时", xerrors.WithStage("analyze"))
		}
		if code := xerrors.CodeOf(err); code == xerrors.CodeInputInvalid || code == xerrors.CodePayloadTooLarge {
			return Record{}, err
		}
		return Record{}, xerrors.Wrap(xerrors.CodeAnalysisUnavailable, err, "分析器调用失败", xerrors.WithStage("analyze"))
	}

	normalized, err := g.normalize(item.Kind, record)
	if err != nil {
		return Record{}, err
	}
	logger.Named("analysis").Debug("内容分析完成",
		slog.String("kind", string(item.Kind)),
		slog.Int64("size", item.ByteSize()),
		slog.Float64("confidence", normalized.Confidence),
		slog.Duration("elapsed", g.now().Sub(started)),
	)
	return normalized, nil
}

func (g *Gateway) normalize(kind Kind, record Record) (Record, error) {
	if math.IsNaN(record.Confidence) || record.Confidence < 0 || record.Confidence > 1 {
		return Record{}, xerrors.New(xerrors.CodeAnalysisUnavailable,
			fmt.Sprintf("分析器返回了非法的置信度 %v", record.Confidence), xerrors.WithStage("analyze"))
	}
	out := record.Clone()
	out.Kind = kind
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = g.now()
	}
	out.Timestamp = out.Timestamp.UTC()
	return out, nil
}
