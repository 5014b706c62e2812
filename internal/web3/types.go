package web3

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for health reporting.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     uint64 `json:"chainId"`
	BlockNumber uint64 `json:"blockNumber"`
	Notes       string `json:"notes,omitempty"`
}

func (s ChainSnapshot) String() string {
	return fmt.Sprintf("%s chain=%d block=%d", s.Name, s.ChainID, s.BlockNumber)
}

// ContractBackend is what contract bindings need from a chain connection,
// including receipt lookups for waiting on mined transactions.
type ContractBackend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	Name() string
	ChainID(ctx context.Context) (uint64, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	ContractBackend() ContractBackend
	Close()
}
