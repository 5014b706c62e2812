package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ProofChain/internal/analysis"
	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/proofs"
	"ProofChain/internal/web3"
	"ProofChain/internal/workflow"
	"ProofChain/pkg/logger"
)

type healthResponse struct {
	Status     string              `json:"status"`
	Timestamp  time.Time           `json:"timestamp"`
	Chain      *web3.ChainSnapshot `json:"chain,omitempty"`
	ChainError string              `json:"chainError,omitempty"`
}

type analysisResponse struct {
	Success   bool               `json:"success"`
	Analysis  analysis.Record    `json:"analysis"`
	ProofHash proofs.Fingerprint `json:"proofHash"`
}

type publishRequest struct {
	ProofHash     string `json:"proofHash"`
	WalletAddress string `json:"walletAddress"`
}

type publishResponse struct {
	Success       bool      `json:"success"`
	TxHash        string    `json:"txHash"`
	ProofHash     string    `json:"proofHash"`
	WalletAddress string    `json:"walletAddress"`
	ChainID       uint64    `json:"chainId"`
	BlockNumber   uint64    `json:"blockNumber,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type sessionView struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"createdAt"`
	Workflow  workflow.Snapshot `json:"workflow"`
}

type proofsResponse struct {
	Proofs []proofs.Receipt `json:"proofs"`
}

type errorResponse struct {
	Error   string       `json:"error"`
	Code    xerrors.Code `json:"code"`
	Hint    string       `json:"hint,omitempty"`
	Session *sessionView `json:"session,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L().Warn("写入响应失败", slog.Any("error", err))
	}
}

// normalizeError 把未分类错误归入统一错误码。
func normalizeError(err error) error {
	if errors.Is(err, workflow.ErrDiscarded) {
		return xerrors.Wrap(xerrors.CodeInvalidStateTransition, err, "operation was cancelled")
	}
	if _, ok := xerrors.From(err); !ok {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "")
	}
	return err
}

func writeError(w http.ResponseWriter, err error, view *sessionView) {
	err = normalizeError(err)
	status := xerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.Int("status", status), slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{
		Error:   err.Error(),
		Code:    xerrors.CodeOf(err),
		Hint:    xerrors.Hint(err),
		Session: view,
	})
}

func invalidInput(message string) error {
	return xerrors.New(xerrors.CodeInputInvalid, message, xerrors.WithStage("api"))
}
