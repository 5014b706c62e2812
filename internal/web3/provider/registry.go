package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ProofChain/internal/config"
	"ProofChain/internal/web3"
	"ProofChain/internal/web3/ethereum"
)

// Dialer constructs a client for one chain definition.
type Dialer func(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error)

// DialEVM is the default Dialer for evm chain definitions.
func DialEVM(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
	return ethereum.NewClient(ctx, ethereum.Config{
		Name:    name,
		RPCURL:  def.RPCURL,
		ChainID: def.ChainID,
		Notes:   def.Description,
	})
}

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
	definitions  map[string]web3.ChainDefinition
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	return NewRegistryWithDialer(ctx, cfg, DialEVM)
}

// NewRegistryWithDialer is NewRegistry with a custom client constructor.
func NewRegistryWithDialer(ctx context.Context, cfg config.Web3Config, dial Dialer) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		defs.Chains["default"] = web3.ChainDefinition{Type: "evm", RPCURL: cfg.RPCURL}
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	clients := make(map[string]web3.Client)
	closeAll := func() {
		for _, client := range clients {
			client.Close()
		}
	}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			closeAll()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		client, err := dial(ctx, name, chain)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		closeAll()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, clients: clients, definitions: defs.Chains}, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Definition returns the chain.yaml entry for name.
func (r *Registry) Definition(name string) (web3.ChainDefinition, bool) {
	if r == nil {
		return web3.ChainDefinition{}, false
	}
	def, ok := r.definitions[name]
	return def, ok
}

// Resolve picks the client for a registry: by name when given, otherwise the
// chain whose definition declares chainID, otherwise the default chain.
func (r *Registry) Resolve(name string, chainID uint64) (web3.Client, web3.ChainDefinition, error) {
	if r == nil {
		return nil, web3.ChainDefinition{}, errors.New("未初始化的链客户端注册表")
	}
	if name == "" && chainID != 0 {
		if found, _, ok := (web3.ChainDefinitions{Chains: r.definitions}).ByChainID(chainID); ok {
			name = found
		}
	}
	if name == "" {
		name = r.defaultChain
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, web3.ChainDefinition{}, fmt.Errorf("链 %s 未在注册表中", name)
	}
	return client, r.definitions[name], nil
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
