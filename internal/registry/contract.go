package registry

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/proofs"
	"ProofChain/pkg/logger"
)

// Backend 是链上登记表所需的节点能力，ethclient.Client 满足该接口。
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// boundContract 抽象 bind.BoundContract 中用到的方法。
type boundContract interface {
	Call(opts *bind.CallOpts, results *[]any, method string, params ...any) error
	Transact(opts *bind.TransactOpts, method string, params ...any) (*types.Transaction, error)
}

type logFilterer interface {
	FilterLogs(ctx context.Context, q gethcore.FilterQuery) ([]types.Log, error)
}

type minedWaiter func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

// ContractOption 定义链上登记表的可选配置。
type ContractOption func(*Contract)

// WithConfirmTimeout 设置等待交易上链的时长。
func WithConfirmTimeout(d time.Duration) ContractOption {
	return func(c *Contract) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

// Contract 通过 AuthRegistry 合约登记证明。
type Contract struct {
	address        common.Address
	chainID        uint64
	contract       boundContract
	logs           logFilterer
	wait           minedWaiter
	confirmTimeout time.Duration
	log            *slog.Logger
}

// NewContract 绑定部署在 address 的合约。
func NewContract(backend Backend, address common.Address, chainID uint64, opts ...ContractOption) *Contract {
	bound := bind.NewBoundContract(address, parsedABI, backend, backend, backend)
	wait := func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return bind.WaitMined(ctx, backend, tx)
	}
	return newContract(address, chainID, bound, backend, wait, opts...)
}

func newContract(address common.Address, chainID uint64, contract boundContract, logs logFilterer, wait minedWaiter, opts ...ContractOption) *Contract {
	c := &Contract{
		address:        address,
		chainID:        chainID,
		contract:       contract,
		logs:           logs,
		wait:           wait,
		confirmTimeout: 2 * time.Minute,
		log:            logger.Named("registry.contract"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ChainID 实现 Registry。
func (c *Contract) ChainID() uint64 { return c.chainID }

// Address 返回合约地址。
func (c *Contract) Address() common.Address { return c.address }

// Lookup 实现 Registry。
func (c *Contract) Lookup(ctx context.Context, fp proofs.Fingerprint, owner common.Address) (proofs.Receipt, error) {
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodProofOf, [32]byte(fp), owner); err != nil {
		return proofs.Receipt{}, unreachable(err, "query registry")
	}
	if len(out) == 0 {
		return proofs.Receipt{}, unreachable(errors.New("empty proofOf result"), "query registry")
	}
	registeredAt, ok := out[0].(*big.Int)
	if !ok {
		return proofs.Receipt{}, unreachable(errors.New("unexpected proofOf result type"), "query registry")
	}
	if registeredAt.Sign() == 0 {
		return proofs.Receipt{}, ErrNotRegistered
	}

	receipt := proofs.Receipt{
		Fingerprint: fp,
		Address:     owner,
		ChainID:     c.chainID,
		ConfirmedAt: time.Unix(registeredAt.Int64(), 0).UTC(),
	}
	if c.logs == nil {
		return receipt, nil
	}
	logs, err := c.logs.FilterLogs(ctx, gethcore.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{
			{parsedABI.Events[eventRegistered].ID},
			{common.Hash(fp)},
			{common.BytesToHash(owner.Bytes())},
		},
	})
	if err != nil {
		c.log.Warn("查询登记事件失败", slog.String("fingerprint", fp.Hex()), slog.Any("error", err))
		return receipt, nil
	}
	if n := len(logs); n > 0 {
		receipt.TransactionID = logs[n-1].TxHash.Hex()
		receipt.BlockNumber = logs[n-1].BlockNumber
	}
	return receipt, nil
}

// Register 实现 Registry。已登记的指纹不会再次发送交易。
func (c *Contract) Register(ctx context.Context, sub proofs.Submission, opts *bind.TransactOpts) (proofs.Receipt, error) {
	if opts == nil || opts.Signer == nil {
		return proofs.Receipt{}, xerrors.New(xerrors.CodeNoWalletAvailable, "no signer supplied", xerrors.WithStage("registry"))
	}
	existing, err := c.Lookup(ctx, sub.Fingerprint, sub.Address)
	switch {
	case err == nil:
		return proofs.Receipt{}, &AlreadyRegisteredError{Receipt: existing}
	case !errors.Is(err, ErrNotRegistered):
		return proofs.Receipt{}, err
	}

	txOpts := *opts
	txOpts.Context = ctx
	tx, err := c.contract.Transact(&txOpts, methodRegister, [32]byte(sub.Fingerprint))
	if err != nil {
		if coded := signerFailure(err); coded != nil {
			return proofs.Receipt{}, coded
		}
		// 并发登记会导致 gas 估算回滚，此时以链上状态为准。
		if existing, lookupErr := c.Lookup(ctx, sub.Fingerprint, sub.Address); lookupErr == nil {
			return proofs.Receipt{}, &AlreadyRegisteredError{Receipt: existing}
		}
		return proofs.Receipt{}, unreachable(err, "send registration")
	}
	c.log.Info("登记交易已发送", slog.String("tx", tx.Hash().Hex()), slog.String("fingerprint", sub.Fingerprint.Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	mined, err := c.wait(waitCtx, tx)
	if err != nil {
		return proofs.Receipt{}, unreachable(err, "wait for confirmation")
	}
	if mined.Status != types.ReceiptStatusSuccessful {
		if existing, lookupErr := c.Lookup(ctx, sub.Fingerprint, sub.Address); lookupErr == nil {
			return proofs.Receipt{}, &AlreadyRegisteredError{Receipt: existing}
		}
		return proofs.Receipt{}, xerrors.New(xerrors.CodeSubmissionRejected, "registry reverted the registration", xerrors.WithStage("registry"))
	}

	// 回执与重复登记时 Lookup 返回的内容一致，确认时间取合约记录的区块时间。
	receipt, err := c.Lookup(ctx, sub.Fingerprint, sub.Address)
	if err != nil {
		if errors.Is(err, ErrNotRegistered) {
			err = unreachable(err, "confirm registration")
		}
		return proofs.Receipt{}, err
	}
	receipt.TransactionID = tx.Hash().Hex()
	if mined.BlockNumber != nil {
		receipt.BlockNumber = mined.BlockNumber.Uint64()
	}
	return receipt, nil
}
