package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// AuthRegistryABI 是 AuthRegistry 合约的接口描述。
const AuthRegistryABI = `[
  {"type":"function","name":"registerProof","stateMutability":"nonpayable",
   "inputs":[{"name":"proofHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"proofOf","stateMutability":"view",
   "inputs":[{"name":"proofHash","type":"bytes32"},{"name":"owner","type":"address"}],
   "outputs":[{"name":"registeredAt","type":"uint256"}]},
  {"type":"event","name":"ProofRegistered","anonymous":false,
   "inputs":[{"name":"proofHash","type":"bytes32","indexed":true},
             {"name":"owner","type":"address","indexed":true},
             {"name":"registeredAt","type":"uint256","indexed":false}]}
]`

const (
	methodRegister  = "registerProof"
	methodProofOf   = "proofOf"
	eventRegistered = "ProofRegistered"
)

var parsedABI = mustParseABI(AuthRegistryABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("registry: invalid AuthRegistry ABI: %v", err))
	}
	return parsed
}

// ParsedABI 返回已解析的合约 ABI。
func ParsedABI() abi.ABI {
	return parsedABI
}

// Deployment 对应合约部署脚本写出的 metadata.json。
type Deployment struct {
	ContractName string            `json:"contractName"`
	Chains       []DeploymentChain `json:"chains"`
	ABI          json.RawMessage   `json:"abi"`
}

// DeploymentChain 描述某条链上的一次部署。
type DeploymentChain struct {
	ChainID    uint64         `json:"chainId"`
	Address    common.Address `json:"address"`
	DeployedAt time.Time      `json:"deployedAt"`
}

// LoadDeployment 读取部署元数据。
func LoadDeployment(path string) (Deployment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Deployment{}, fmt.Errorf("读取合约部署元数据失败: %w", err)
	}
	var deployment Deployment
	if err := json.Unmarshal(content, &deployment); err != nil {
		return Deployment{}, fmt.Errorf("解析合约部署元数据失败: %w", err)
	}
	return deployment, nil
}

// AddressFor 返回指定链上的合约地址。
func (d Deployment) AddressFor(chainID uint64) (common.Address, bool) {
	for _, chain := range d.Chains {
		if chain.ChainID == chainID {
			return chain.Address, true
		}
	}
	return common.Address{}, false
}

// ContractABI 返回元数据中的 ABI；缺失时回退到内置 ABI。
func (d Deployment) ContractABI() (abi.ABI, error) {
	if len(d.ABI) == 0 || string(d.ABI) == "null" {
		return parsedABI, nil
	}
	return abi.JSON(strings.NewReader(string(d.ABI)))
}
