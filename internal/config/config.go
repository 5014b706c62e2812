package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "PROOFCHAIN_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件。
const DefaultPath = "configs/proofchain.json"

// Config 描述了 ProofChain 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server" toml:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" toml:"logging" yaml:"logging"`
	Analysis  AnalysisConfig  `json:"analysis" toml:"analysis" yaml:"analysis"`
	Wallet    WalletConfig    `json:"wallet" toml:"wallet" yaml:"wallet"`
	Registry  RegistryConfig  `json:"registry" toml:"registry" yaml:"registry"`
	Publisher PublisherConfig `json:"publisher" toml:"publisher" yaml:"publisher"`
	Storage   StorageConfig   `json:"storage" toml:"storage" yaml:"storage"`
	Events    EventsConfig    `json:"events" toml:"events" yaml:"events"`
	Web3      Web3Config      `json:"web3" toml:"web3" yaml:"web3"`
	Alerting  AlertingConfig  `json:"alerting" toml:"alerting" yaml:"alerting"`
	Session   SessionConfig   `json:"session" toml:"session" yaml:"session"`
	Runtime   RuntimeConfig   `json:"runtime" toml:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string   `json:"address" toml:"address" yaml:"address"`
	MetricsAddress  string   `json:"metrics_address" toml:"metrics_address" yaml:"metrics_address"`
	ShutdownTimeout Duration `json:"shutdown_timeout" toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level      string      `json:"level" toml:"level" yaml:"level"`
	Format     string      `json:"format" toml:"format" yaml:"format"`
	Outputs    []string    `json:"outputs" toml:"outputs" yaml:"outputs"`
	MaxSizeMB  int         `json:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int         `json:"max_backups" toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int         `json:"max_age_days" toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool        `json:"compress" toml:"compress" yaml:"compress"`
	Audit      AuditConfig `json:"audit" toml:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Path       string `json:"path" toml:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" toml:"max_age_days" yaml:"max_age_days"`
}

// AnalysisConfig 描述内容分析网关。
type AnalysisConfig struct {
	// Driver 取值 stub 或 remote。
	Driver          string   `json:"driver" toml:"driver" yaml:"driver"`
	MaxPayloadBytes int64    `json:"max_payload_bytes" toml:"max_payload_bytes" yaml:"max_payload_bytes"`
	Timeout         Duration `json:"timeout" toml:"timeout" yaml:"timeout"`
	RemoteURL       string   `json:"remote_url" toml:"remote_url" yaml:"remote_url"`
	APIKeyEnv       string   `json:"api_key_env" toml:"api_key_env" yaml:"api_key_env"`
}

// WalletConfig 描述签名钱包的来源。密钥只从环境变量读取。
type WalletConfig struct {
	// Driver 取值 key、keystore 或 rpc。
	Driver        string   `json:"driver" toml:"driver" yaml:"driver"`
	PrivateKeyEnv string   `json:"private_key_env" toml:"private_key_env" yaml:"private_key_env"`
	KeystorePath  string   `json:"keystore_path" toml:"keystore_path" yaml:"keystore_path"`
	PassphraseEnv string   `json:"passphrase_env" toml:"passphrase_env" yaml:"passphrase_env"`
	RPCURL        string   `json:"rpc_url" toml:"rpc_url" yaml:"rpc_url"`
	ChainID       uint64   `json:"chain_id" toml:"chain_id" yaml:"chain_id"`
	KnownChains   []uint64 `json:"known_chains" toml:"known_chains" yaml:"known_chains"`
}

// RegistryConfig 描述证明登记合约。
type RegistryConfig struct {
	// Driver 取值 memory 或 contract。
	Driver         string      `json:"driver" toml:"driver" yaml:"driver"`
	ChainID        uint64      `json:"chain_id" toml:"chain_id" yaml:"chain_id"`
	Chain          string      `json:"chain" toml:"chain" yaml:"chain"`
	Address        string      `json:"address" toml:"address" yaml:"address"`
	DeploymentPath string      `json:"deployment_path" toml:"deployment_path" yaml:"deployment_path"`
	ConfirmTimeout Duration    `json:"confirm_timeout" toml:"confirm_timeout" yaml:"confirm_timeout"`
	Cache          RedisConfig `json:"cache" toml:"cache" yaml:"cache"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Enabled  bool     `json:"enabled" toml:"enabled" yaml:"enabled"`
	Address  string   `json:"address" toml:"address" yaml:"address"`
	Password string   `json:"password" toml:"password" yaml:"password"`
	DB       int      `json:"db" toml:"db" yaml:"db"`
	Prefix   string   `json:"prefix" toml:"prefix" yaml:"prefix"`
	TTL      Duration `json:"ttl" toml:"ttl" yaml:"ttl"`
}

// PublisherConfig 控制发布重试。
type PublisherConfig struct {
	MaxAttempts    int      `json:"max_attempts" toml:"max_attempts" yaml:"max_attempts"`
	InitialBackoff Duration `json:"initial_backoff" toml:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     Duration `json:"max_backoff" toml:"max_backoff" yaml:"max_backoff"`
	AttemptTimeout Duration `json:"attempt_timeout" toml:"attempt_timeout" yaml:"attempt_timeout"`
}

// StorageConfig 统一描述持久化后端。
type StorageConfig struct {
	Receipts ReceiptStoreConfig `json:"receipts" toml:"receipts" yaml:"receipts"`
}

// ReceiptStoreConfig 支持 memory、mysql、sqlite。
type ReceiptStoreConfig struct {
	Driver          string   `json:"driver" toml:"driver" yaml:"driver"`
	DSN             string   `json:"dsn" toml:"dsn" yaml:"dsn"`
	MaxOpenConns    int      `json:"max_open_conns" toml:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns" toml:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" toml:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// EventsConfig 描述证明事件总线。
type EventsConfig struct {
	// Driver 取值 memory、redis 或 rabbitmq。
	Driver     string         `json:"driver" toml:"driver" yaml:"driver"`
	Workers    int            `json:"workers" toml:"workers" yaml:"workers"`
	BufferSize int            `json:"buffer_size" toml:"buffer_size" yaml:"buffer_size"`
	Redis      RedisQueue     `json:"redis" toml:"redis" yaml:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq" toml:"rabbitmq" yaml:"rabbitmq"`
}

// RedisQueue 描述基于 Redis 列表的队列。
type RedisQueue struct {
	Address   string   `json:"address" toml:"address" yaml:"address"`
	Password  string   `json:"password" toml:"password" yaml:"password"`
	DB        int      `json:"db" toml:"db" yaml:"db"`
	Queue     string   `json:"queue" toml:"queue" yaml:"queue"`
	BlockWait Duration `json:"block_wait" toml:"block_wait" yaml:"block_wait"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL      string `json:"url" toml:"url" yaml:"url"`
	Queue    string `json:"queue" toml:"queue" yaml:"queue"`
	Prefetch int    `json:"prefetch" toml:"prefetch" yaml:"prefetch"`
	Durable  bool   `json:"durable" toml:"durable" yaml:"durable"`
}

// Web3Config 指向链定义文件。
type Web3Config struct {
	ChainConfig  string `json:"chain_config" toml:"chain_config" yaml:"chain_config"`
	DefaultChain string `json:"default_chain" toml:"default_chain" yaml:"default_chain"`
	RPCURL       string `json:"rpc_url" toml:"rpc_url" yaml:"rpc_url"`
}

// AlertingConfig 描述发布失败的告警渠道。
type AlertingConfig struct {
	Audit      bool   `json:"audit" toml:"audit" yaml:"audit"`
	WebhookURL string `json:"webhook_url" toml:"webhook_url" yaml:"webhook_url"`
}

// SessionConfig 控制 HTTP 会话。
type SessionConfig struct {
	TTL         Duration `json:"ttl" toml:"ttl" yaml:"ttl"`
	MaxSessions int      `json:"max_sessions" toml:"max_sessions" yaml:"max_sessions"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" toml:"data_dir" yaml:"data_dir"`
}

// PathFromEnv 返回配置文件路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 按扩展名解析 JSON、TOML 或 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(content), &cfg); err != nil {
			return nil, fmt.Errorf("解析 TOML 配置失败: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回填充了默认值的配置，baseDir 用于解析相对路径。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyDefaults(baseDir)
	return &cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.Outputs) == 0 {
		c.Logging.Outputs = []string{"stdout"}
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "audit.log"
	}

	if c.Analysis.Driver == "" {
		c.Analysis.Driver = "stub"
	}
	if c.Analysis.MaxPayloadBytes <= 0 {
		c.Analysis.MaxPayloadBytes = 50 << 20
	}
	if c.Analysis.Timeout <= 0 {
		c.Analysis.Timeout = Duration(30 * time.Second)
	}
	if c.Analysis.APIKeyEnv == "" {
		c.Analysis.APIKeyEnv = "PROOFCHAIN_ANALYZER_KEY"
	}

	if c.Registry.Driver == "" {
		c.Registry.Driver = "memory"
	}
	if c.Registry.ChainID == 0 {
		c.Registry.ChainID = 80002
	}
	if c.Registry.ConfirmTimeout <= 0 {
		c.Registry.ConfirmTimeout = Duration(30 * time.Second)
	}
	if c.Registry.Cache.Prefix == "" {
		c.Registry.Cache.Prefix = "proofchain:receipt:"
	}
	if c.Registry.Cache.TTL <= 0 {
		c.Registry.Cache.TTL = Duration(24 * time.Hour)
	}

	if c.Wallet.Driver == "" {
		c.Wallet.Driver = "key"
	}
	if c.Wallet.PrivateKeyEnv == "" {
		c.Wallet.PrivateKeyEnv = "PROOFCHAIN_PRIVATE_KEY"
	}
	if c.Wallet.PassphraseEnv == "" {
		c.Wallet.PassphraseEnv = "PROOFCHAIN_KEYSTORE_PASSPHRASE"
	}
	if c.Wallet.ChainID == 0 {
		c.Wallet.ChainID = c.Registry.ChainID
	}

	if c.Publisher.MaxAttempts <= 0 {
		c.Publisher.MaxAttempts = 3
	}
	if c.Publisher.InitialBackoff <= 0 {
		c.Publisher.InitialBackoff = Duration(500 * time.Millisecond)
	}
	if c.Publisher.MaxBackoff <= 0 {
		c.Publisher.MaxBackoff = Duration(10 * time.Second)
	}
	if c.Publisher.AttemptTimeout <= 0 {
		c.Publisher.AttemptTimeout = c.Registry.ConfirmTimeout
	}

	if c.Storage.Receipts.Driver == "" {
		c.Storage.Receipts.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Workers <= 0 {
		c.Events.Workers = 2
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 256
	}
	if c.Events.Redis.Queue == "" {
		c.Events.Redis.Queue = "proofchain:events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "proofchain.events"
	}

	if c.Session.TTL <= 0 {
		c.Session.TTL = Duration(30 * time.Minute)
	}
	if c.Session.MaxSessions <= 0 {
		c.Session.MaxSessions = 1024
	}

	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, "data")
	if c.Web3.ChainConfig != "" {
		c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig, "")
	}
	if c.Registry.DeploymentPath != "" {
		c.Registry.DeploymentPath = resolve(baseDir, c.Registry.DeploymentPath, "")
	}
	if c.Wallet.KeystorePath != "" {
		c.Wallet.KeystorePath = resolve(baseDir, c.Wallet.KeystorePath, "")
	}
	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(c.Runtime.DataDir, c.Logging.Audit.Path, "")
	}
}

func resolve(baseDir, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 检查驱动取值等不能被默认值修正的错误。
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		for _, candidate := range allowed {
			if value == candidate {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s 不支持取值 %q", field, value))
	}
	check("analysis.driver", c.Analysis.Driver, "stub", "remote")
	check("wallet.driver", c.Wallet.Driver, "key", "keystore", "rpc")
	check("registry.driver", c.Registry.Driver, "memory", "contract")
	check("storage.receipts.driver", c.Storage.Receipts.Driver, "memory", "mysql", "sqlite")
	check("events.driver", c.Events.Driver, "memory", "redis", "rabbitmq")

	if c.Analysis.Driver == "remote" && strings.TrimSpace(c.Analysis.RemoteURL) == "" {
		errs = append(errs, errors.New("analysis.remote_url 不能为空"))
	}
	if c.Wallet.Driver == "keystore" && c.Wallet.KeystorePath == "" {
		errs = append(errs, errors.New("wallet.keystore_path 不能为空"))
	}
	if c.Wallet.Driver == "rpc" && strings.TrimSpace(c.Wallet.RPCURL) == "" {
		errs = append(errs, errors.New("wallet.rpc_url 不能为空"))
	}
	if c.Registry.Driver == "contract" && c.Registry.Address == "" && c.Registry.DeploymentPath == "" {
		errs = append(errs, errors.New("registry.address 与 registry.deployment_path 至少填写一个"))
	}
	return errors.Join(errs...)
}
