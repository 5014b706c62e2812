package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type            string `yaml:"type"`
	ChainID         uint64 `yaml:"chain_id"`
	RPCURL          string `yaml:"rpc_url"`
	WSURL           string `yaml:"ws_url"`
	RegistryAddress string `yaml:"registry_address"`
	Description     string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// ByChainID returns the first definition (by name order) declaring chainID.
func (d ChainDefinitions) ByChainID(chainID uint64) (string, ChainDefinition, bool) {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if def := d.Chains[name]; def.ChainID == chainID {
			return name, def, true
		}
	}
	return "", ChainDefinition{}, false
}
