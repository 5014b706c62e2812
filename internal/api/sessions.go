package api

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"ProofChain/internal/analysis"
	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/proofs"
	"ProofChain/internal/session"
	"ProofChain/internal/storage/receiptdb"
)

func viewOf(sess *session.Session) *sessionView {
	return &sessionView{ID: sess.ID, CreatedAt: sess.CreatedAt, Workflow: sess.Controller.Snapshot()}
}

// lookupSession 返回路径中的会话；出错时已写入响应。
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if s.sessions == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "sessions not configured"), nil)
		return nil, false
	}
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err, nil)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "sessions not configured"), nil)
		return
	}
	sess, err := s.sessions.Create()
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookupSession(w, r); ok {
		writeJSON(w, http.StatusOK, viewOf(sess))
	}
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "sessions not configured"), nil)
		return
	}
	if err := s.sessions.Delete(r.PathValue("id")); err != nil {
		writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionContent 提交内容并立即分析。
func (s *Server) handleSessionContent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	item, err := s.readSessionContent(w, r)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if err := sess.Controller.Submit(item); err != nil {
		writeError(w, err, viewOf(sess))
		return
	}
	s.runStep(w, r, sess, func(ctx context.Context) error {
		_, _, err := sess.Controller.Analyze(ctx)
		return err
	})
}

func (s *Server) handleSessionWallet(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookupSession(w, r); ok {
		s.runStep(w, r, sess, func(ctx context.Context) error {
			_, err := sess.Controller.Connect(ctx)
			return err
		})
	}
}

func (s *Server) handleSessionProof(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookupSession(w, r); ok {
		s.runStep(w, r, sess, func(ctx context.Context) error {
			_, err := sess.Controller.Publish(ctx)
			return err
		})
	}
}

func (s *Server) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	cancelled := sess.Controller.Cancel()
	writeJSON(w, http.StatusOK, struct {
		Cancelled bool         `json:"cancelled"`
		Session   *sessionView `json:"session"`
	}{cancelled, viewOf(sess)})
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookupSession(w, r); ok {
		sess.Controller.Reset()
		writeJSON(w, http.StatusOK, viewOf(sess))
	}
}

func (s *Server) runStep(w http.ResponseWriter, r *http.Request, sess *session.Session, step func(ctx context.Context) error) {
	if err := step(r.Context()); err != nil {
		writeError(w, err, viewOf(sess))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) readSessionContent(w http.ResponseWriter, r *http.Request) (analysis.ContentItem, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		item, err := s.readUpload(w, r, "", "file")
		if err != nil {
			return analysis.ContentItem{}, err
		}
		raw := r.FormValue("kind")
		if raw == "" {
			raw = r.URL.Query().Get("kind")
		}
		kind, err := analysis.ParseKind(raw)
		if err != nil {
			return analysis.ContentItem{}, err
		}
		item.Kind = kind
		return item, nil
	}

	var req struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, s.textLimit(), &req); err != nil {
		return analysis.ContentItem{}, err
	}
	if req.Kind != "" && !strings.EqualFold(req.Kind, string(analysis.KindText)) {
		return analysis.ContentItem{}, invalidInput("JSON content must be text; upload files as multipart")
	}
	return analysis.ContentItem{Kind: analysis.KindText, Text: req.Text}, nil
}

func (s *Server) handleListProofs(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "receipt ledger not configured"), nil)
		return
	}
	query := receiptdb.Query{}
	if raw := strings.TrimSpace(r.URL.Query().Get("address")); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, invalidInput("address is not a valid address"), nil)
			return
		}
		addr := common.HexToAddress(raw)
		query.Address = &addr
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := parsePositive(raw)
		if err != nil {
			writeError(w, invalidInput("limit must be a positive integer"), nil)
			return
		}
		query.Limit = limit
	}
	list, err := s.receipts.List(r.Context(), query)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeStorageFailure, err, "", xerrors.WithStage("ledger")), nil)
		return
	}
	writeJSON(w, http.StatusOK, proofsResponse{Proofs: list})
}

func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "receipt ledger not configured"), nil)
		return
	}
	fp, err := proofs.ParseFingerprint(r.PathValue("fingerprint"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	raw := r.URL.Query().Get("address")
	if !common.IsHexAddress(raw) {
		writeError(w, invalidInput("address query parameter is required"), nil)
		return
	}
	receipt, err := s.receipts.Get(r.Context(), fp, common.HexToAddress(raw))
	if err != nil {
		if errors.Is(err, receiptdb.ErrNotFound) {
			writeError(w, xerrors.New(xerrors.CodeNotFound, "proof not recorded"), nil)
			return
		}
		writeError(w, xerrors.Wrap(xerrors.CodeStorageFailure, err, "", xerrors.WithStage("ledger")), nil)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func parsePositive(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
