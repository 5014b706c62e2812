package wallet

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// State 描述连接器所处的阶段。
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Identity 是一次成功连接得到的签名身份快照。
type Identity struct {
	Address     common.Address `json:"address"`
	ChainID     uint64         `json:"chainId"`
	State       State          `json:"connectionState"`
	ConnectedAt time.Time      `json:"connectedAt"`
}

// Connected 判断身份是否处于已连接状态。
func (i Identity) Connected() bool {
	return i.State == StateConnected && i.Address != (common.Address{})
}

func (i Identity) sameAccount(other Identity) bool {
	return i.Address == other.Address && i.ChainID == other.ChainID
}
