package ethereum

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

type fakeNode struct {
	chainID uint64
	block   uint64
}

func (n *fakeNode) ChainId() *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).SetUint64(n.chainID))
}

func (n *fakeNode) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(n.block)
}

func newInProcClient(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	server := gethrpc.NewServer()
	if err := server.RegisterName("eth", node); err != nil {
		t.Fatalf("register service: %v", err)
	}
	t.Cleanup(server.Stop)
	client := NewClientFromRPC("amoy", gethrpc.DialInProc(server), "polygon amoy testnet")
	t.Cleanup(client.Close)
	return client
}

func TestFetchChainSnapshot(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := newInProcClient(t, &fakeNode{chainID: 80002, block: 0x1f})
	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != 80002 {
		t.Fatalf("unexpected chain id %d", snapshot.ChainID)
	}
	if snapshot.BlockNumber != 0x1f {
		t.Fatalf("unexpected block number %d", snapshot.BlockNumber)
	}
	if snapshot.Name != "amoy" || snapshot.Notes == "" {
		t.Fatalf("unexpected metadata %+v", snapshot)
	}
}

func TestChainIDIsCached(t *testing.T) {
	t.Parallel()

	node := &fakeNode{chainID: 137}
	client := newInProcClient(t, node)
	first, err := client.ChainID(context.Background())
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	node.chainID = 1
	second, err := client.ChainID(context.Background())
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if first != 137 || second != 137 {
		t.Fatalf("expected cached chain id 137, got %d then %d", first, second)
	}
	if client.ContractBackend() == nil {
		t.Fatal("expected a contract backend")
	}
}

func TestClosedClientFails(t *testing.T) {
	t.Parallel()

	client := newInProcClient(t, &fakeNode{chainID: 1})
	client.Close()
	if _, err := client.FetchChainSnapshot(context.Background()); err == nil {
		t.Fatal("expected closed client to fail")
	}
	if client.ContractBackend() != nil {
		t.Fatal("closed client must not expose a backend")
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected missing RPC URL to fail")
	}
}
