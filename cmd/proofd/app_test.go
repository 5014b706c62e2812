package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProofChain/internal/config"
	"ProofChain/internal/web3"
)

func TestBuildWithDefaults(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	t.Setenv("PROOFCHAIN_PRIVATE_KEY", common.Bytes2Hex(crypto.FromECDSA(key)))

	cfg := config.Default(t.TempDir())
	a, err := build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	handler := a.server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := strings.NewReader(`{"text":"hello world"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-text", body)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ProofHash string `json:"proofHash"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	signer := crypto.PubkeyToAddress(key.PublicKey).Hex()
	publish := strings.NewReader(`{"proofHash":"` + resp.ProofHash + `","walletAddress":"` + signer + `"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/publish-proof", publish)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestBuildRejectsContractWithoutChain(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Registry.Driver = "contract"
	cfg.Registry.Address = "0x00000000000000000000000000000000000000aa"
	t.Setenv("PROOFCHAIN_PRIVATE_KEY", "")

	_, err := build(context.Background(), cfg)
	require.Error(t, err)
}

func TestRegistryAddressResolution(t *testing.T) {
	explicit := "0x00000000000000000000000000000000000000aa"
	fromChain := "0x00000000000000000000000000000000000000bb"

	addr, err := registryAddress(config.RegistryConfig{Address: explicit}, web3.ChainDefinition{RegistryAddress: fromChain})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(explicit), addr)

	addr, err = registryAddress(config.RegistryConfig{}, web3.ChainDefinition{RegistryAddress: fromChain})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(fromChain), addr)

	_, err = registryAddress(config.RegistryConfig{Address: "not-an-address"}, web3.ChainDefinition{})
	require.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")
	metadata := `{"contractName":"AuthRegistry","chains":[{"chainId":80002,"address":"0x00000000000000000000000000000000000000cc","deployedAt":"2024-01-01T00:00:00Z"}]}`
	require.NoError(t, os.WriteFile(path, []byte(metadata), 0o600))

	addr, err = registryAddress(config.RegistryConfig{ChainID: 80002, DeploymentPath: path}, web3.ChainDefinition{})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000cc"), addr)

	_, err = registryAddress(config.RegistryConfig{ChainID: 1, DeploymentPath: path}, web3.ChainDefinition{})
	require.Error(t, err)
}

func TestBuildBusRejectsUnknownDriver(t *testing.T) {
	_, err := buildBus(config.EventsConfig{Driver: "kafka"})
	require.Error(t, err)

	bus, err := buildBus(config.EventsConfig{Driver: "memory", BufferSize: 4})
	require.NoError(t, err)
	require.NoError(t, bus.Close())
}
