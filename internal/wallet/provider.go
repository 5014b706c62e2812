package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "ProofChain/internal/errors"
)

// 提供者错误码，取值遵循 EIP-1193。
const (
	ProviderCodeUserRejected      = 4001
	ProviderCodeUnauthorized      = 4100
	ProviderCodeUnrecognizedChain = 4902
)

// ErrNoProvider 表示未配置签名提供者。
var ErrNoProvider = errors.New("no signing provider configured")

// Provider 是连接器委托的签名提供者，对应浏览器注入钱包的账户授权、
// 网络读取与网络切换能力，并负责交易签名。
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (uint64, error)
	SwitchChain(ctx context.Context, chainID uint64) error
	SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// ProviderError 是带错误码的提供者失败。
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// ProviderCode 从 err 中提取提供者错误码，没有时返回 0。
func ProviderCode(err error) int {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return 0
}

func rejected(message string) error {
	return &ProviderError{Code: ProviderCodeUserRejected, Message: message}
}

// classifyConnect 将连接阶段的提供者错误映射为统一错误码。
func classifyConnect(err error) error {
	switch {
	case errors.Is(err, ErrNoProvider):
		return xerrors.Wrap(xerrors.CodeNoWalletAvailable, err, "", xerrors.WithStage("connect"))
	case ProviderCode(err) == ProviderCodeUserRejected, ProviderCode(err) == ProviderCodeUnauthorized:
		return xerrors.Wrap(xerrors.CodeUserRejected, err, "", xerrors.WithStage("connect"))
	default:
		return xerrors.Wrap(xerrors.CodeNoWalletAvailable, err, "signing provider unavailable", xerrors.WithStage("connect"))
	}
}

// classifySign 将签名阶段的提供者错误映射为统一错误码。
func classifySign(err error) error {
	switch ProviderCode(err) {
	case ProviderCodeUserRejected, ProviderCodeUnauthorized:
		return xerrors.Wrap(xerrors.CodeSubmissionRejected, err, "", xerrors.WithStage("sign"))
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeSubmissionRejected, err, "signing failed", xerrors.WithStage("sign"))
}
