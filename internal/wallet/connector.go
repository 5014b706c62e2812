package wallet

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "ProofChain/internal/errors"
	"ProofChain/pkg/logger"
)

// Option 定义连接器的可选配置。
type Option func(*Connector)

// WithClock 替换时间来源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(c *Connector) {
		if now != nil {
			c.now = now
		}
	}
}

// Connector 负责与签名提供者建立连接并维护当前身份。
type Connector struct {
	provider Provider
	now      func() time.Time
	log      *slog.Logger

	mu       sync.Mutex
	state    State
	identity Identity
}

// NewConnector 创建连接器。provider 为 nil 时 Connect 会返回 NO_WALLET_AVAILABLE。
func NewConnector(provider Provider, opts ...Option) *Connector {
	c := &Connector{
		provider: provider,
		now:      time.Now,
		log:      logger.Named("wallet"),
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// State 返回连接器当前阶段。
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity 返回当前身份；未连接时为零值加 Disconnected 状态。
func (c *Connector) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return Identity{State: StateDisconnected}
	}
	return c.identity
}

// Connect 请求账户授权并读取当前网络。
func (c *Connector) Connect(ctx context.Context) (Identity, error) {
	if c.provider == nil {
		return Identity{}, classifyConnect(ErrNoProvider)
	}

	c.mu.Lock()
	if c.state == StateConnecting {
		c.mu.Unlock()
		return Identity{}, xerrors.New(xerrors.CodeInvalidStateTransition, "connection already in progress", xerrors.WithStage("connect"))
	}
	c.state = StateConnecting
	c.identity = Identity{}
	c.mu.Unlock()

	identity, err := c.handshake(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateDisconnected
		c.log.Warn("钱包连接失败", slog.String("code", string(xerrors.CodeOf(err))), slog.Any("error", err))
		return Identity{}, err
	}
	c.state = StateConnected
	c.identity = identity
	c.log.Info("钱包已连接",
		slog.String("address", identity.Address.Hex()),
		slog.Uint64("chain_id", identity.ChainID))
	return identity, nil
}

func (c *Connector) handshake(ctx context.Context) (Identity, error) {
	accounts, err := c.provider.RequestAccounts(ctx)
	if err != nil {
		return Identity{}, classifyConnect(err)
	}
	if len(accounts) == 0 {
		return Identity{}, xerrors.New(xerrors.CodeNoWalletAvailable, "signing provider exposed no accounts", xerrors.WithStage("connect"))
	}
	chainID, err := c.provider.ChainID(ctx)
	if err != nil {
		return Identity{}, classifyConnect(err)
	}
	return Identity{
		Address:     accounts[0],
		ChainID:     chainID,
		State:       StateConnected,
		ConnectedAt: c.now().UTC(),
	}, nil
}

// SwitchChain 请求提供者切换网络。已连接时返回更新后的身份，旧身份随之失效。
func (c *Connector) SwitchChain(ctx context.Context, target uint64) (Identity, error) {
	if c.provider == nil {
		return Identity{}, classifyConnect(ErrNoProvider)
	}
	if err := c.provider.SwitchChain(ctx, target); err != nil {
		switch ProviderCode(err) {
		case ProviderCodeUnrecognizedChain:
			return Identity{}, xerrors.Wrap(xerrors.CodeChainNotRegistered, err, "", xerrors.WithStage("switch_chain"))
		case ProviderCodeUserRejected:
			return Identity{}, xerrors.Wrap(xerrors.CodeUserRejected, err, "", xerrors.WithStage("switch_chain"))
		}
		return Identity{}, xerrors.Wrap(xerrors.CodeUnknown, err, "chain switch failed", xerrors.WithStage("switch_chain"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return Identity{State: StateDisconnected}, nil
	}
	c.identity.ChainID = target
	c.log.Info("钱包网络已切换", slog.Uint64("chain_id", target))
	return c.identity, nil
}

// Disconnect 清除身份，重复调用安全。
func (c *Connector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected {
		c.log.Info("钱包已断开", slog.String("address", c.identity.Address.Hex()))
	}
	c.state = StateDisconnected
	c.identity = Identity{}
}

// Refresh 重新读取账户与网络；发现变化时断开连接并返回 Disconnected 身份。
func (c *Connector) Refresh(ctx context.Context) (Identity, error) {
	current := c.Identity()
	if !current.Connected() {
		return current, nil
	}
	accounts, err := c.provider.RequestAccounts(ctx)
	if err != nil {
		return Identity{}, classifyConnect(err)
	}
	chainID, err := c.provider.ChainID(ctx)
	if err != nil {
		return Identity{}, classifyConnect(err)
	}
	if len(accounts) > 0 && accounts[0] == current.Address && chainID == current.ChainID {
		return current, nil
	}
	c.log.Warn("检测到账户或网络变化，连接已失效",
		slog.String("address", current.Address.Hex()),
		slog.Uint64("chain_id", chainID))
	c.Disconnect()
	return Identity{State: StateDisconnected}, nil
}

// Validate 确认身份仍与当前连接一致。
func (c *Connector) Validate(identity Identity) error {
	if !identity.Connected() {
		return xerrors.New(xerrors.CodeNoWalletAvailable, "wallet is not connected", xerrors.WithStage("publish"))
	}
	current := c.Identity()
	if !current.Connected() || !current.sameAccount(identity) {
		return xerrors.New(xerrors.CodeNoWalletAvailable, "wallet identity is stale; reconnect", xerrors.WithStage("publish"))
	}
	return nil
}

// TransactOpts 生成绑定到该身份的交易签名参数。
func (c *Connector) TransactOpts(ctx context.Context, identity Identity) (*bind.TransactOpts, error) {
	if err := c.Validate(identity); err != nil {
		return nil, err
	}
	chainID := new(big.Int).SetUint64(identity.ChainID)
	provider := c.provider
	return &bind.TransactOpts{
		From:    identity.Address,
		Context: ctx,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != identity.Address {
				return nil, bind.ErrNotAuthorized
			}
			signed, err := provider.SignTx(ctx, addr, tx, chainID)
			if err != nil {
				return nil, classifySign(err)
			}
			return signed, nil
		},
	}, nil
}
