package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadJSONAppliesDefaults(t *testing.T) {
	path := writeFile(t, "proofchain.json", `{"server": {"address": ":9090"}, "publisher": {"initial_backoff": "1s"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, int64(50<<20), cfg.Analysis.MaxPayloadBytes)
	assert.Equal(t, 30*time.Second, cfg.Analysis.Timeout.Std())
	assert.Equal(t, "memory", cfg.Registry.Driver)
	assert.Equal(t, uint64(80002), cfg.Registry.ChainID)
	assert.Equal(t, uint64(80002), cfg.Wallet.ChainID)
	assert.Equal(t, 3, cfg.Publisher.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Publisher.InitialBackoff.Std())
	assert.Equal(t, 30*time.Second, cfg.Publisher.AttemptTimeout.Std())
	assert.Equal(t, "memory", cfg.Storage.Receipts.Driver)
	assert.Equal(t, "memory", cfg.Events.Driver)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data"), cfg.Runtime.DataDir)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "proofchain.toml", `
[registry]
driver = "contract"
chain_id = 137
address = "0x0000000000000000000000000000000000000001"
confirm_timeout = "45s"

[events]
driver = "redis"

[events.redis]
address = "127.0.0.1:6379"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "contract", cfg.Registry.Driver)
	assert.Equal(t, uint64(137), cfg.Registry.ChainID)
	assert.Equal(t, 45*time.Second, cfg.Registry.ConfirmTimeout.Std())
	assert.Equal(t, "redis", cfg.Events.Driver)
	assert.Equal(t, "127.0.0.1:6379", cfg.Events.Redis.Address)
	assert.Equal(t, "proofchain:events", cfg.Events.Redis.Queue)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "proofchain.yaml", `
analysis:
  driver: remote
  remote_url: http://analyzer.local
  timeout: 5s
web3:
  chain_config: chain.yaml
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "remote", cfg.Analysis.Driver)
	assert.Equal(t, 5*time.Second, cfg.Analysis.Timeout.Std())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "chain.yaml"), cfg.Web3.ChainConfig)
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	path := writeFile(t, "bad.json", `{"events": {"driver": "kafka"}, "analysis": {"driver": "remote"}}`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events.driver")
	assert.Contains(t, err.Error(), "analysis.remote_url")
}

func TestDurationAcceptsSeconds(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`2.5`)))
	assert.Equal(t, 2500*time.Millisecond, d.Std())
	require.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultPath, PathFromEnv())
	t.Setenv(EnvConfigPath, "/etc/proofchain.toml")
	assert.Equal(t, "/etc/proofchain.toml", PathFromEnv())
}

func TestSampleConfigsLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "proofchain.json"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Receipts.Driver)
	assert.True(t, filepath.IsAbs(cfg.Runtime.DataDir) || filepath.Base(cfg.Runtime.DataDir) == "data")

	cfg, err = Load(filepath.Join("..", "..", "configs", "proofchain.contract.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "contract", cfg.Registry.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Registry.ConfirmTimeout.Std())
	assert.Equal(t, "rabbitmq", cfg.Events.Driver)
	assert.Equal(t, filepath.Join("..", "..", "configs", "chain.yaml"), cfg.Web3.ChainConfig)
}
