package registry

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/proofs"
	"ProofChain/pkg/logger"
)

const memoryGasLimit = 100_000

// MemoryOption 定义内存登记表的可选配置。
type MemoryOption func(*Memory)

// WithMemoryClock 替换时间来源。
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMemoryAddress 指定模拟合约地址。
func WithMemoryAddress(addr common.Address) MemoryOption {
	return func(m *Memory) {
		m.contract = addr
	}
}

// Memory 是进程内的幂等登记表。登记仍要求签名者对登记交易签名，
// 因此签名被拒绝时与链上登记表的表现一致。
type Memory struct {
	chainID  uint64
	contract common.Address
	now      func() time.Time
	log      *slog.Logger

	mu       sync.Mutex
	receipts map[string]proofs.Receipt
	nonces   map[common.Address]uint64
	height   uint64
}

// NewMemory 创建内存登记表。
func NewMemory(chainID uint64, opts ...MemoryOption) *Memory {
	m := &Memory{
		chainID:  chainID,
		contract: common.HexToAddress("0x000000000000000000000000000000000000a11c"),
		now:      time.Now,
		log:      logger.Named("registry.memory"),
		receipts: make(map[string]proofs.Receipt),
		nonces:   make(map[common.Address]uint64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// ChainID 实现 Registry。
func (m *Memory) ChainID() uint64 { return m.chainID }

// Lookup 实现 Registry。
func (m *Memory) Lookup(ctx context.Context, fp proofs.Fingerprint, owner common.Address) (proofs.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return proofs.Receipt{}, unreachable(err, "lookup cancelled")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	receipt, ok := m.receipts[proofs.PairKey(fp, owner)]
	if !ok {
		return proofs.Receipt{}, ErrNotRegistered
	}
	return receipt, nil
}

// Register 实现 Registry。
func (m *Memory) Register(ctx context.Context, sub proofs.Submission, opts *bind.TransactOpts) (proofs.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return proofs.Receipt{}, unreachable(err, "registration cancelled")
	}
	if opts == nil || opts.Signer == nil {
		return proofs.Receipt{}, xerrors.New(xerrors.CodeNoWalletAvailable, "no signer supplied", xerrors.WithStage("registry"))
	}

	key := sub.Key()
	m.mu.Lock()
	if existing, ok := m.receipts[key]; ok {
		m.mu.Unlock()
		return proofs.Receipt{}, &AlreadyRegisteredError{Receipt: existing}
	}
	nonce := m.nonces[sub.Address]
	m.mu.Unlock()

	data, err := parsedABI.Pack(methodRegister, [32]byte(sub.Fingerprint))
	if err != nil {
		return proofs.Receipt{}, xerrors.Wrap(xerrors.CodeInputInvalid, err, "encode registration", xerrors.WithStage("registry"))
	}
	contract := m.contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Gas:      memoryGasLimit,
		GasPrice: big.NewInt(1),
		Value:    big.NewInt(0),
		Data:     data,
	})

	// 签名可能等待用户确认，期间不持有锁。
	signed, err := opts.Signer(sub.Address, tx)
	if err != nil {
		if coded := signerFailure(err); coded != nil {
			return proofs.Receipt{}, coded
		}
		return proofs.Receipt{}, xerrors.Wrap(xerrors.CodeSubmissionRejected, err, "", xerrors.WithStage("sign"))
	}
	sender, err := types.Sender(types.LatestSignerForChainID(new(big.Int).SetUint64(m.chainID)), signed)
	if err != nil || sender != sub.Address {
		return proofs.Receipt{}, xerrors.New(xerrors.CodeSubmissionRejected,
			"registration signature does not belong to the submitting address", xerrors.WithStage("registry"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.receipts[key]; ok {
		return proofs.Receipt{}, &AlreadyRegisteredError{Receipt: existing}
	}
	m.height++
	m.nonces[sub.Address] = nonce + 1
	receipt := proofs.Receipt{
		TransactionID: signed.Hash().Hex(),
		Fingerprint:   sub.Fingerprint,
		Address:       sub.Address,
		ChainID:       m.chainID,
		BlockNumber:   m.height,
		ConfirmedAt:   m.now().UTC(),
	}
	m.receipts[key] = receipt
	m.log.Debug("证明已登记",
		slog.String("fingerprint", sub.Fingerprint.Hex()),
		slog.String("tx", receipt.TransactionID))
	return receipt, nil
}

// Receipts 返回某地址的全部登记，按确认时间排序。
func (m *Memory) Receipts(owner common.Address) []proofs.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]proofs.Receipt, 0)
	for _, receipt := range m.receipts {
		if receipt.Address == owner {
			out = append(out, receipt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	return out
}
