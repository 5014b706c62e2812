package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"

	"ProofChain/internal/analysis"
	"ProofChain/internal/api"
	"ProofChain/internal/config"
	"ProofChain/internal/events"
	"ProofChain/internal/ledger"
	"ProofChain/internal/observability/alerting"
	"ProofChain/internal/publisher"
	"ProofChain/internal/registry"
	"ProofChain/internal/session"
	"ProofChain/internal/storage/receiptdb"
	"ProofChain/internal/wallet"
	"ProofChain/internal/web3"
	"ProofChain/internal/web3/provider"
	"ProofChain/internal/workflow"
	"ProofChain/pkg/logger"
)

// app 持有守护进程装配好的全部组件。
type app struct {
	server   *api.Server
	recorder *ledger.Recorder
	closers  []func()
}

// Close 逆序释放资源。
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// build 根据配置装配分析网关、钱包、登记表、事件总线、账本与 API 服务。
func build(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	log := logger.Named("proofd")

	analyzer, err := buildAnalyzer(cfg.Analysis)
	if err != nil {
		return nil, err
	}
	gateway := analysis.NewGateway(analyzer,
		analysis.WithMaxPayload(cfg.Analysis.MaxPayloadBytes),
		analysis.WithTimeout(cfg.Analysis.Timeout.Std()),
	)

	var chains *provider.Registry
	if cfg.Web3.ChainConfig != "" || cfg.Web3.RPCURL != "" {
		chains, err = provider.NewRegistry(ctx, cfg.Web3)
		if err != nil {
			return nil, err
		}
		a.onClose(chains.Close)
	}

	walletProvider, err := buildWalletProvider(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	reg, chainClient, err := buildRegistry(cfg.Registry, chains)
	if err != nil {
		return nil, err
	}
	if cfg.Registry.Cache.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Registry.Cache.Address,
			Password: cfg.Registry.Cache.Password,
			DB:       cfg.Registry.Cache.DB,
		})
		a.onClose(func() { _ = client.Close() })
		reg = registry.NewCached(reg, client,
			registry.WithCachePrefix(cfg.Registry.Cache.Prefix),
			registry.WithCacheTTL(cfg.Registry.Cache.TTL.Std()),
		)
	}

	bus, err := buildBus(cfg.Events)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = bus.Close() })

	store, err := receiptdb.Open(ctx, receiptdb.Config{
		Driver:          cfg.Storage.Receipts.Driver,
		DSN:             cfg.Storage.Receipts.DSN,
		DataDir:         cfg.Runtime.DataDir,
		MaxOpenConns:    cfg.Storage.Receipts.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.Receipts.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.Receipts.ConnMaxLifetime.Std(),
	})
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = store.Close() })

	alerts := buildAlerts(cfg.Alerting)
	a.recorder = ledger.NewRecorder(store, bus,
		ledger.WithWorkerCount(cfg.Events.Workers),
		ledger.WithAlertDispatcher(alerts),
	)

	publisherOpts := []publisher.Option{
		publisher.WithConfig(publisher.Config{
			MaxAttempts:    cfg.Publisher.MaxAttempts,
			InitialBackoff: cfg.Publisher.InitialBackoff.Std(),
			MaxBackoff:     cfg.Publisher.MaxBackoff.Std(),
			AttemptTimeout: cfg.Publisher.AttemptTimeout.Std(),
		}),
		publisher.WithEvents(bus),
		publisher.WithAlerts(alerts),
	}
	newPublisher := func() (*wallet.Connector, *publisher.Publisher) {
		connector := wallet.NewConnector(walletProvider)
		return connector, publisher.New(reg, connector, publisherOpts...)
	}

	sessions := session.NewManager(func() *workflow.Controller {
		connector, pub := newPublisher()
		return workflow.New(gateway, connector, pub)
	},
		session.WithTTL(cfg.Session.TTL.Std()),
		session.WithMaxSessions(cfg.Session.MaxSessions),
	)

	signer, pub := newPublisher()
	opts := []api.Option{
		api.WithPublishing(signer, pub),
		api.WithSessions(sessions),
		api.WithReceipts(store),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout.Std()),
	}
	if chainClient != nil {
		opts = append(opts, api.WithChain(chainClient))
	}
	a.server = api.NewServer(cfg.Server.Address, gateway, opts...)

	log.Info("proofd 装配完成",
		slog.String("analysis", cfg.Analysis.Driver),
		slog.String("wallet", cfg.Wallet.Driver),
		slog.String("registry", cfg.Registry.Driver),
		slog.Uint64("chain_id", reg.ChainID()),
		slog.String("receipts", cfg.Storage.Receipts.Driver),
		slog.String("events", cfg.Events.Driver),
	)
	return a, nil
}

func buildAnalyzer(cfg config.AnalysisConfig) (analysis.Analyzer, error) {
	switch cfg.Driver {
	case "", "stub":
		return analysis.NewStubAnalyzer(), nil
	case "remote":
		remote, err := analysis.NewRemoteAnalyzer(analysis.RemoteConfig{
			BaseURL: cfg.RemoteURL,
			APIKey:  os.Getenv(cfg.APIKeyEnv),
			Timeout: cfg.Timeout.Std(),
		})
		if err != nil {
			return nil, err
		}
		return remote, nil
	default:
		return nil, fmt.Errorf("未知的分析驱动: %s", cfg.Driver)
	}
}

// buildWalletProvider 构造签名来源。key 驱动在内存登记表下允许使用临时密钥。
func buildWalletProvider(ctx context.Context, cfg *config.Config, a *app) (wallet.Provider, error) {
	walletCfg := cfg.Wallet
	keyOpts := []wallet.KeyOption{wallet.WithKnownChains(walletCfg.KnownChains...)}
	switch walletCfg.Driver {
	case "", "key":
		raw := strings.TrimSpace(os.Getenv(walletCfg.PrivateKeyEnv))
		if raw != "" {
			p, err := wallet.KeyProviderFromHex(raw, walletCfg.ChainID, keyOpts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
		if cfg.Registry.Driver != "memory" {
			return nil, fmt.Errorf("环境变量 %s 未设置签名私钥", walletCfg.PrivateKeyEnv)
		}
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		logger.L().Warn("未配置签名私钥，使用临时密钥",
			slog.String("address", crypto.PubkeyToAddress(key.PublicKey).Hex()))
		return wallet.NewKeyProvider(key, walletCfg.ChainID, keyOpts...), nil
	case "keystore":
		p, err := wallet.KeyProviderFromKeystore(walletCfg.KeystorePath, os.Getenv(walletCfg.PassphraseEnv), walletCfg.ChainID, keyOpts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "rpc":
		p, err := wallet.DialRPCProvider(ctx, walletCfg.RPCURL)
		if err != nil {
			return nil, err
		}
		a.onClose(p.Close)
		return p, nil
	default:
		return nil, fmt.Errorf("未知的钱包驱动: %s", walletCfg.Driver)
	}
}

// buildRegistry 返回登记表以及用于健康检查的链客户端（可能为空）。
func buildRegistry(cfg config.RegistryConfig, chains *provider.Registry) (registry.Registry, web3.Client, error) {
	switch cfg.Driver {
	case "", "memory":
		var client web3.Client
		if chains != nil {
			client, _ = chains.DefaultClient()
		}
		return registry.NewMemory(cfg.ChainID), client, nil
	case "contract":
		if chains == nil {
			return nil, nil, errors.New("contract 登记表需要配置 web3.chain_config 或 web3.rpc_url")
		}
		client, def, err := chains.Resolve(cfg.Chain, cfg.ChainID)
		if err != nil {
			return nil, nil, err
		}
		address, err := registryAddress(cfg, def)
		if err != nil {
			return nil, nil, err
		}
		backend := client.ContractBackend()
		if backend == nil {
			return nil, nil, fmt.Errorf("链 %s 的客户端已关闭", client.Name())
		}
		reg := registry.NewContract(backend, address, cfg.ChainID,
			registry.WithConfirmTimeout(cfg.ConfirmTimeout.Std()))
		return reg, client, nil
	default:
		return nil, nil, fmt.Errorf("未知的登记表驱动: %s", cfg.Driver)
	}
}

// registryAddress 依次使用显式配置、链定义与部署元数据中的合约地址。
func registryAddress(cfg config.RegistryConfig, def web3.ChainDefinition) (common.Address, error) {
	for _, candidate := range []string{cfg.Address, def.RegistryAddress} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if !common.IsHexAddress(candidate) {
			return common.Address{}, fmt.Errorf("非法的合约地址: %s", candidate)
		}
		return common.HexToAddress(candidate), nil
	}
	if cfg.DeploymentPath == "" {
		return common.Address{}, errors.New("未配置登记合约地址")
	}
	deployment, err := registry.LoadDeployment(cfg.DeploymentPath)
	if err != nil {
		return common.Address{}, err
	}
	address, ok := deployment.AddressFor(cfg.ChainID)
	if !ok {
		return common.Address{}, fmt.Errorf("部署元数据中缺少链 %d 的合约地址", cfg.ChainID)
	}
	return address, nil
}

func buildBus(cfg config.EventsConfig) (events.Bus, error) {
	switch cfg.Driver {
	case "", "memory":
		return events.NewMemoryBus(cfg.BufferSize), nil
	case "redis":
		bus, err := events.NewRedisBus(events.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: cfg.Redis.BlockWait.Std(),
		})
		if err != nil {
			return nil, err
		}
		return bus, nil
	case "rabbitmq":
		bus, err := events.NewRabbitMQBus(events.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  cfg.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("未知的事件总线驱动: %s", cfg.Driver)
	}
}

func buildAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Audit {
		notifiers = append(notifiers, alerting.AuditNotifier{})
	}
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: url, Client: &http.Client{Timeout: 10 * time.Second}})
	}
	return alerting.NewFanout(notifiers...)
}
