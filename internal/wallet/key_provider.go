package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Action 表示 KeyProvider 需要审批的请求类型。
type Action string

const (
	ActionRequestAccounts Action = "request_accounts"
	ActionSwitchChain     Action = "switch_chain"
	ActionSignTransaction Action = "sign_transaction"
)

// Approver 决定是否放行提供者请求；返回 false 等同于用户拒绝授权。
type Approver func(ctx context.Context, action Action) bool

// KeyOption 定义 KeyProvider 的可选配置。
type KeyOption func(*KeyProvider)

// WithKnownChains 登记提供者可以切换到的额外网络。
func WithKnownChains(ids ...uint64) KeyOption {
	return func(p *KeyProvider) {
		for _, id := range ids {
			p.known[id] = struct{}{}
		}
	}
}

// WithApprover 安装审批钩子。
func WithApprover(fn Approver) KeyOption {
	return func(p *KeyProvider) {
		p.approve = fn
	}
}

// KeyProvider 使用本地 ECDSA 私钥签名，在服务端与测试中代替浏览器钱包。
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	approve Approver

	mu     sync.Mutex
	active uint64
	known  map[uint64]struct{}
}

// NewKeyProvider 以 key 创建提供者，初始网络为 chainID。
func NewKeyProvider(key *ecdsa.PrivateKey, chainID uint64, opts ...KeyOption) *KeyProvider {
	p := &KeyProvider{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		active:  chainID,
		known:   map[uint64]struct{}{chainID: {}},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// KeyProviderFromHex 解析十六进制编码的 secp256k1 私钥。
func KeyProviderFromHex(hexKey string, chainID uint64, opts ...KeyOption) (*KeyProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewKeyProvider(key, chainID, opts...), nil
}

// KeyProviderFromKeystore 解密 V3 keystore 文件。
func KeyProviderFromKeystore(path, passphrase string, chainID uint64, opts ...KeyOption) (*KeyProvider, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(content, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return NewKeyProvider(key.PrivateKey, chainID, opts...), nil
}

// Address 返回提供者控制的账户。
func (p *KeyProvider) Address() common.Address {
	return p.address
}

func (p *KeyProvider) allowed(ctx context.Context, action Action) bool {
	return p.approve == nil || p.approve(ctx, action)
}

// RequestAccounts 实现 Provider。
func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.allowed(ctx, ActionRequestAccounts) {
		return nil, rejected("account request declined")
	}
	return []common.Address{p.address}, nil
}

// ChainID 实现 Provider。
func (p *KeyProvider) ChainID(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active, nil
}

// SwitchChain 实现 Provider。
func (p *KeyProvider) SwitchChain(ctx context.Context, chainID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	_, ok := p.known[chainID]
	p.mu.Unlock()
	if !ok {
		return &ProviderError{Code: ProviderCodeUnrecognizedChain, Message: fmt.Sprintf("unrecognized chain id 0x%x", chainID)}
	}
	if !p.allowed(ctx, ActionSwitchChain) {
		return rejected("chain switch declined")
	}
	p.mu.Lock()
	p.active = chainID
	p.mu.Unlock()
	return nil
}

// SignTx 实现 Provider。
func (p *KeyProvider) SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if account != p.address {
		return nil, &ProviderError{Code: ProviderCodeUnauthorized, Message: "account not managed by this provider"}
	}
	if !p.allowed(ctx, ActionSignTransaction) {
		return nil, rejected("signature declined")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), p.key)
}
