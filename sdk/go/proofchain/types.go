package proofchain

import (
	"errors"
	"fmt"
	"time"
)

// Health is returned by GET /api/health.
type Health struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Chain      *ChainSnapshot `json:"chain,omitempty"`
	ChainError string         `json:"chainError,omitempty"`
}

// ChainSnapshot summarises the chain the server is bound to.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     uint64 `json:"chainId"`
	BlockNumber uint64 `json:"blockNumber"`
}

// Analysis is the normalized analysis record.
type Analysis struct {
	Kind            string         `json:"kind"`
	DetectedSummary string         `json:"detectedSummary"`
	Confidence      float64        `json:"confidence"`
	Metadata        map[string]any `json:"metadata"`
	Timestamp       time.Time      `json:"timestamp"`
}

// AnalysisResult is returned by the stateless analysis endpoints.
type AnalysisResult struct {
	Success   bool     `json:"success"`
	Analysis  Analysis `json:"analysis"`
	ProofHash string   `json:"proofHash"`
}

// PublishResult is returned by POST /api/publish-proof.
type PublishResult struct {
	Success       bool      `json:"success"`
	TxHash        string    `json:"txHash"`
	ProofHash     string    `json:"proofHash"`
	WalletAddress string    `json:"walletAddress"`
	ChainID       uint64    `json:"chainId"`
	BlockNumber   uint64    `json:"blockNumber,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Receipt is a confirmed proof registration.
type Receipt struct {
	TransactionID string    `json:"transactionId"`
	Fingerprint   string    `json:"fingerprint"`
	Address       string    `json:"address"`
	ChainID       uint64    `json:"chainId"`
	BlockNumber   uint64    `json:"blockNumber,omitempty"`
	ConfirmedAt   time.Time `json:"confirmedAt"`
}

// ProofQuery filters ListProofs.
type ProofQuery struct {
	Address string
	Limit   int
}

// Wallet is the identity connected in a session.
type Wallet struct {
	Address         string    `json:"address"`
	ChainID         uint64    `json:"chainId"`
	ConnectionState string    `json:"connectionState"`
	ConnectedAt     time.Time `json:"connectedAt"`
}

// Workflow is a read-only snapshot of a session workflow.
type Workflow struct {
	State         string    `json:"state"`
	Busy          bool      `json:"busy"`
	FailureCode   string    `json:"failureCode,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	Hint          string    `json:"hint,omitempty"`
	Analysis      *Analysis `json:"analysis,omitempty"`
	ProofHash     string    `json:"proofHash,omitempty"`
	Wallet        *Wallet   `json:"wallet,omitempty"`
	Receipt       *Receipt  `json:"receipt,omitempty"`
}

// Session is a server-side workflow owned by one caller.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Workflow  Workflow  `json:"workflow"`
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int      `json:"-"`
	Code       string   `json:"code"`
	Message    string   `json:"error"`
	Hint       string   `json:"hint,omitempty"`
	Session    *Session `json:"session,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("proofchain api error (%d)", e.StatusCode)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += " - " + e.Message
	}
	if e.Hint != "" {
		msg += " (hint: " + e.Hint + ")"
	}
	return msg
}

// ErrorCode extracts the server error code from err, or "" when err is not an APIError.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
