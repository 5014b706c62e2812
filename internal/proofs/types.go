package proofs

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Submission is sent once per (fingerprint, address) pair.
type Submission struct {
	Fingerprint Fingerprint    `json:"fingerprint"`
	Address     common.Address `json:"address"`
	ChainID     uint64         `json:"chainId"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

// Key identifies the submission pair.
func (s Submission) Key() string {
	return PairKey(s.Fingerprint, s.Address)
}

// Receipt is the terminal, immutable artifact of a confirmed registration.
type Receipt struct {
	TransactionID string         `json:"transactionId"`
	Fingerprint   Fingerprint    `json:"fingerprint"`
	Address       common.Address `json:"address"`
	ChainID       uint64         `json:"chainId"`
	BlockNumber   uint64         `json:"blockNumber,omitempty"`
	ConfirmedAt   time.Time      `json:"confirmedAt"`
}

// Key identifies the receipt pair.
func (r Receipt) Key() string {
	return PairKey(r.Fingerprint, r.Address)
}

// PairKey renders the idempotency key shared by submissions and receipts.
func PairKey(fp Fingerprint, addr common.Address) string {
	return fp.Hex() + ":" + strings.ToLower(addr.Hex())
}
