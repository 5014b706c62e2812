package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// RPCProvider 通过 JSON-RPC 桥接外部钱包，使用浏览器注入钱包暴露的方法。
type RPCProvider struct {
	client *gethrpc.Client
}

// DialRPCProvider 连接钱包端点。
func DialRPCProvider(ctx context.Context, endpoint string) (*RPCProvider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrNoProvider
	}
	client, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial wallet endpoint: %w", err)
	}
	return NewRPCProvider(client), nil
}

// NewRPCProvider 包装已有的 RPC 客户端。
func NewRPCProvider(client *gethrpc.Client) *RPCProvider {
	return &RPCProvider{client: client}
}

// Close 释放底层连接。
func (p *RPCProvider) Close() {
	if p != nil && p.client != nil {
		p.client.Close()
	}
}

// RequestAccounts 通过 eth_requestAccounts 实现 Provider。
func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, providerError(err)
	}
	return accounts, nil
}

// ChainID 通过 eth_chainId 实现 Provider。
func (p *RPCProvider) ChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Uint64
	if err := p.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return 0, providerError(err)
	}
	return uint64(id), nil
}

// SwitchChain 通过 wallet_switchEthereumChain 实现 Provider。
func (p *RPCProvider) SwitchChain(ctx context.Context, chainID uint64) error {
	param := map[string]hexutil.Uint64{"chainId": hexutil.Uint64(chainID)}
	if err := p.client.CallContext(ctx, nil, "wallet_switchEthereumChain", param); err != nil {
		return providerError(err)
	}
	return nil
}

type signTxArgs struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Input                hexutil.Bytes   `json:"input"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
}

type signTxResult struct {
	Raw hexutil.Bytes `json:"raw"`
}

// SignTx 通过 eth_signTransaction 实现 Provider。
func (p *RPCProvider) SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	args := signTxArgs{
		From:  account,
		To:    tx.To(),
		Gas:   hexutil.Uint64(tx.Gas()),
		Value: (*hexutil.Big)(tx.Value()),
		Nonce: hexutil.Uint64(tx.Nonce()),
		Input: tx.Data(),
	}
	if chainID != nil {
		args.ChainID = (*hexutil.Big)(chainID)
	}
	if tx.Type() == types.DynamicFeeTxType {
		args.MaxFeePerGas = (*hexutil.Big)(tx.GasFeeCap())
		args.MaxPriorityFeePerGas = (*hexutil.Big)(tx.GasTipCap())
	} else {
		args.GasPrice = (*hexutil.Big)(tx.GasPrice())
	}

	var result signTxResult
	if err := p.client.CallContext(ctx, &result, "eth_signTransaction", args); err != nil {
		return nil, providerError(err)
	}
	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(result.Raw); err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}
	return signed, nil
}

func providerError(err error) error {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return &ProviderError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return err
}
