package ethereum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"ProofChain/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	// ChainID, when set, must match what the node reports.
	ChainID uint64
	Notes   string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name  string
	notes string
	eth   *ethclient.Client

	mu      sync.Mutex
	chainID uint64
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	client := NewClientFromRPC(cfg.Name, rpcClient, cfg.Notes)

	if cfg.ChainID != 0 {
		actual, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}
		if actual != cfg.ChainID {
			client.Close()
			return nil, fmt.Errorf("节点链 ID %d 与配置 %d 不一致", actual, cfg.ChainID)
		}
	}
	return client, nil
}

// NewClientFromRPC wraps an established RPC connection. Tests use it with an
// in-process server.
func NewClientFromRPC(name string, rpcClient *gethrpc.Client, notes string) *Client {
	return &Client{
		name:  name,
		notes: notes,
		eth:   ethclient.NewClient(rpcClient),
	}
}

// Name returns the configured chain name.
func (c *Client) Name() string { return c.name }

// ChainID queries eth_chainId once and caches the answer.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != 0 {
		return c.chainID, nil
	}
	if c.eth == nil {
		return 0, errors.New("未初始化的以太坊客户端")
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("链 ID 超出范围: %s", id)
	}
	c.chainID = id.Uint64()
	return c.chainID, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.eth == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     chainID,
		BlockNumber: blockNumber,
		Notes:       c.notes,
	}, nil
}

// ContractBackend exposes the ethclient for contract bindings.
func (c *Client) ContractBackend() web3.ContractBackend {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth == nil {
		return nil
	}
	return c.eth
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
}
