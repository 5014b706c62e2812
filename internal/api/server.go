package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ProofChain/internal/analysis"
	"ProofChain/internal/observability/metrics"
	"ProofChain/internal/proofs"
	"ProofChain/internal/session"
	"ProofChain/internal/storage/receiptdb"
	"ProofChain/internal/wallet"
	"ProofChain/internal/web3"
	"ProofChain/pkg/logger"
)

// Analyzer 是无状态分析接口所需的网关能力，analysis.Gateway 满足该接口。
type Analyzer interface {
	Analyze(ctx context.Context, item analysis.ContentItem) (analysis.Record, error)
	MaxPayload() int64
}

// SignerWallet 是服务端签名钱包，wallet.Connector 满足该接口。
type SignerWallet interface {
	Identity() wallet.Identity
	Connect(ctx context.Context) (wallet.Identity, error)
}

// ProofPublisher 登记证明，publisher.Publisher 满足该接口。
type ProofPublisher interface {
	Publish(ctx context.Context, fp proofs.Fingerprint, identity wallet.Identity) (proofs.Receipt, error)
}

// Option 定义服务的可选配置。
type Option func(*Server)

// WithPublishing 启用 /api/publish-proof。
func WithPublishing(signer SignerWallet, publisher ProofPublisher) Option {
	return func(s *Server) {
		s.signer = signer
		s.publisher = publisher
	}
}

// WithSessions 启用会话接口。
func WithSessions(manager *session.Manager) Option {
	return func(s *Server) {
		s.sessions = manager
	}
}

// WithReceipts 启用回执查询接口。
func WithReceipts(store receiptdb.Store) Option {
	return func(s *Server) {
		s.receipts = store
	}
}

// WithChain 让健康检查附带链状态。
func WithChain(client web3.Client) Option {
	return func(s *Server) {
		s.chain = client
	}
}

// WithShutdownTimeout 设置优雅退出的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	analyzer        Analyzer
	signer          SignerWallet
	publisher       ProofPublisher
	sessions        *session.Manager
	receipts        receiptdb.Store
	chain           web3.Client
	shutdownTimeout time.Duration
	log             *slog.Logger
	now             func() time.Time

	signerMu sync.Mutex
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, analyzer Analyzer, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		analyzer:        analyzer,
		shutdownTimeout: 5 * time.Second,
		log:             logger.Named("api"),
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/analyze-image", s.handleAnalyzeUpload(analysis.KindImage, "image"))
	mux.HandleFunc("POST /api/analyze-video", s.handleAnalyzeUpload(analysis.KindVideo, "video"))
	mux.HandleFunc("POST /api/analyze-text", s.handleAnalyzeText)
	mux.HandleFunc("POST /api/publish-proof", s.handlePublishProof)

	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/content", s.handleSessionContent)
	mux.HandleFunc("POST /api/v1/sessions/{id}/wallet", s.handleSessionWallet)
	mux.HandleFunc("POST /api/v1/sessions/{id}/proof", s.handleSessionProof)
	mux.HandleFunc("POST /api/v1/sessions/{id}/cancel", s.handleSessionCancel)
	mux.HandleFunc("POST /api/v1/sessions/{id}/reset", s.handleSessionReset)

	mux.HandleFunc("GET /api/v1/proofs", s.handleListProofs)
	mux.HandleFunc("GET /api/v1/proofs/{fingerprint}", s.handleGetProof)

	mux.Handle("GET /metrics", metrics.Handler())
	return instrument(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("HTTP 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Timestamp: s.now().UTC()}
	if s.chain != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		snapshot, err := s.chain.FetchChainSnapshot(ctx)
		if err != nil {
			resp.ChainError = err.Error()
		} else {
			resp.Chain = &snapshot
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
