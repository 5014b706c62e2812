package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/proofs"
)

// ErrNotRegistered 表示该指纹尚未由该地址登记。
var ErrNotRegistered = errors.New("proof not registered")

// AlreadyRegisteredError 在重复登记时返回，携带已有回执。
type AlreadyRegisteredError struct {
	Receipt proofs.Receipt
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("proof %s already registered by %s", e.Receipt.Fingerprint.Hex(), e.Receipt.Address.Hex())
}

// AsAlreadyRegistered 从错误链中提取已有回执。
func AsAlreadyRegistered(err error) (proofs.Receipt, bool) {
	var already *AlreadyRegisteredError
	if errors.As(err, &already) {
		return already.Receipt, true
	}
	return proofs.Receipt{}, false
}

// Registry 记录指纹到地址的证明登记。
type Registry interface {
	// ChainID 返回登记表所在链。
	ChainID() uint64
	// Lookup 查询已有登记，未登记时返回 ErrNotRegistered。
	Lookup(ctx context.Context, fp proofs.Fingerprint, owner common.Address) (proofs.Receipt, error)
	// Register 提交登记并等待确认。重复登记返回 *AlreadyRegisteredError。
	Register(ctx context.Context, sub proofs.Submission, opts *bind.TransactOpts) (proofs.Receipt, error)
}

func unreachable(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeRegistryUnreachable, err, message, xerrors.WithStage("registry"))
}

// signerFailure 统一签名阶段的错误；已编码的错误原样返回。
func signerFailure(err error) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if errors.Is(err, bind.ErrNotAuthorized) {
		return xerrors.Wrap(xerrors.CodeSubmissionRejected, err, "signer not authorized for account", xerrors.WithStage("sign"))
	}
	return nil
}
