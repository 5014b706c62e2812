package workflow

import (
	"ProofChain/internal/analysis"
	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/proofs"
	"ProofChain/internal/wallet"
)

// State 是工作流所处的阶段。
type State string

const (
	StateIdle             State = "idle"
	StateContentSubmitted State = "content_submitted"
	StateAnalyzed         State = "analyzed"
	StateWalletConnected  State = "wallet_connected"
	StateProofPublished   State = "proof_published"
	StateFailed           State = "failed"
)

// Terminal 判断状态是否需要新的 Submit 才能继续。
func (s State) Terminal() bool {
	return s == StateProofPublished || s == StateFailed
}

// Snapshot 是控制器状态的只读副本。
type Snapshot struct {
	State         State               `json:"state"`
	Busy          bool                `json:"busy"`
	FailureCode   xerrors.Code        `json:"failureCode,omitempty"`
	FailureReason string              `json:"failureReason,omitempty"`
	Hint          string              `json:"hint,omitempty"`
	Record        *analysis.Record    `json:"analysis,omitempty"`
	Fingerprint   *proofs.Fingerprint `json:"proofHash,omitempty"`
	Identity      *wallet.Identity    `json:"wallet,omitempty"`
	Receipt       *proofs.Receipt     `json:"receipt,omitempty"`
}
