package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/events"
	"ProofChain/internal/observability/alerting"
	"ProofChain/internal/proofs"
	"ProofChain/internal/registry"
	"ProofChain/internal/wallet"
)

const amoy = 80002

type fixture struct {
	connector *wallet.Connector
	identity  wallet.Identity
}

func newFixture(t *testing.T, chainID uint64, opts ...wallet.KeyOption) fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	connector := wallet.NewConnector(wallet.NewKeyProvider(key, chainID, opts...))
	identity, err := connector.Connect(context.Background())
	require.NoError(t, err)
	return fixture{connector: connector, identity: identity}
}

func fingerprint(seed byte) proofs.Fingerprint {
	var fp proofs.Fingerprint
	for i := range fp {
		fp[i] = seed
	}
	return fp
}

func noSleep(context.Context, time.Duration) error { return nil }

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func TestPublishIsIdempotent(t *testing.T) {
	fx := newFixture(t, amoy)
	bus := events.NewMemoryBus(8)
	pub := New(registry.NewMemory(amoy), fx.connector, WithEvents(bus))
	fp := fingerprint(0x11)

	first, err := pub.Publish(context.Background(), fp, fx.identity)
	require.NoError(t, err)
	assert.NotEmpty(t, first.TransactionID)
	assert.Equal(t, fp, first.Fingerprint)
	assert.Equal(t, fx.identity.Address, first.Address)

	second, err := pub.Publish(context.Background(), fp, fx.identity)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, bus.Close())
	var published []events.Event
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = bus.Consume(ctx, 1, func(_ context.Context, event events.Event) error {
		published = append(published, event)
		return nil
	})
	require.Len(t, published, 2)
	assert.False(t, published[0].Duplicate)
	assert.True(t, published[1].Duplicate)
}

func TestPublishNetworkMismatch(t *testing.T) {
	fx := newFixture(t, 1)
	reg := registry.NewMemory(amoy)
	alerts := &recordingAlerts{}
	pub := New(reg, fx.connector, WithAlerts(alerts))
	fp := fingerprint(0x22)

	_, err := pub.Publish(context.Background(), fp, fx.identity)
	assert.Equal(t, xerrors.CodeNetworkMismatch, xerrors.CodeOf(err))
	assert.False(t, xerrors.RetryableError(err))

	_, lookupErr := reg.Lookup(context.Background(), fp, fx.identity.Address)
	assert.ErrorIs(t, lookupErr, registry.ErrNotRegistered)
	assert.Empty(t, alerts.events, "network mismatch is user actionable and not alerted")
}

func TestPublishSignerDeclines(t *testing.T) {
	fx := newFixture(t, amoy, wallet.WithApprover(func(_ context.Context, action wallet.Action) bool {
		return action != wallet.ActionSignTransaction
	}))
	pub := New(registry.NewMemory(amoy), fx.connector)

	_, err := pub.Publish(context.Background(), fingerprint(0x33), fx.identity)
	assert.Equal(t, xerrors.CodeSubmissionRejected, xerrors.CodeOf(err))
}

func TestPublishPreconditions(t *testing.T) {
	fx := newFixture(t, amoy)
	pub := New(registry.NewMemory(amoy), fx.connector)

	_, err := pub.Publish(context.Background(), fingerprint(0x44), wallet.Identity{})
	assert.Equal(t, xerrors.CodeNoWalletAvailable, xerrors.CodeOf(err))

	_, err = pub.Publish(context.Background(), proofs.Fingerprint{}, fx.identity)
	assert.Equal(t, xerrors.CodeInputInvalid, xerrors.CodeOf(err))

	fx.connector.Disconnect()
	_, err = pub.Publish(context.Background(), fingerprint(0x44), fx.identity)
	assert.Equal(t, xerrors.CodeNoWalletAvailable, xerrors.CodeOf(err))
}

// flakyRegistry fails with an unreachable error a fixed number of times.
type flakyRegistry struct {
	*registry.Memory
	failures int
	calls    int
}

func (f *flakyRegistry) Register(ctx context.Context, sub proofs.Submission, opts *bind.TransactOpts) (proofs.Receipt, error) {
	f.calls++
	if f.calls <= f.failures {
		return proofs.Receipt{}, xerrors.Wrap(xerrors.CodeRegistryUnreachable, errors.New("connection reset"), "", xerrors.WithStage("registry"))
	}
	return f.Memory.Register(ctx, sub, opts)
}

func TestPublishRetriesUnreachableRegistry(t *testing.T) {
	fx := newFixture(t, amoy)
	reg := &flakyRegistry{Memory: registry.NewMemory(amoy), failures: 2}
	var waits []time.Duration
	pub := New(reg, fx.connector,
		WithConfig(Config{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond}),
		WithSleep(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}))

	receipt, err := pub.Publish(context.Background(), fingerprint(0x55), fx.identity)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TransactionID)
	assert.Equal(t, 3, reg.calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)
}

func TestPublishGivesUpAfterBoundedAttempts(t *testing.T) {
	fx := newFixture(t, amoy)
	reg := &flakyRegistry{Memory: registry.NewMemory(amoy), failures: 100}
	alerts := &recordingAlerts{}
	pub := New(reg, fx.connector,
		WithConfig(Config{MaxAttempts: 3}),
		WithSleep(noSleep),
		WithAlerts(alerts))

	_, err := pub.Publish(context.Background(), fingerprint(0x66), fx.identity)
	assert.Equal(t, xerrors.CodeRegistryUnreachable, xerrors.CodeOf(err))
	assert.False(t, xerrors.RetryableError(err), "exhausted retries are fatal")
	assert.Equal(t, 3, reg.calls)

	require.Len(t, alerts.events, 1)
	assert.Equal(t, 3, alerts.events[0].Attempts)
	assert.Equal(t, fingerprint(0x66).Hex(), alerts.events[0].Fingerprint)
}

func TestPublishCancelledDuringBackoff(t *testing.T) {
	fx := newFixture(t, amoy)
	reg := &flakyRegistry{Memory: registry.NewMemory(amoy), failures: 100}
	ctx, cancel := context.WithCancel(context.Background())
	pub := New(reg, fx.connector, WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))

	_, err := pub.Publish(ctx, fingerprint(0x77), fx.identity)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, reg.calls)
}

type emptyTxRegistry struct{ registry.Registry }

func (emptyTxRegistry) Register(context.Context, proofs.Submission, *bind.TransactOpts) (proofs.Receipt, error) {
	return proofs.Receipt{Address: common.Address{1}}, nil
}

func TestPublishRejectsEmptyTransactionID(t *testing.T) {
	fx := newFixture(t, amoy)
	pub := New(emptyTxRegistry{registry.NewMemory(amoy)}, fx.connector, WithConfig(Config{MaxAttempts: 1}))
	_, err := pub.Publish(context.Background(), fingerprint(0x88), fx.identity)
	assert.Equal(t, xerrors.CodeRegistryUnreachable, xerrors.CodeOf(err))
}

type untrackedDuplicateRegistry struct{ registry.Registry }

func (untrackedDuplicateRegistry) Register(_ context.Context, sub proofs.Submission, _ *bind.TransactOpts) (proofs.Receipt, error) {
	return proofs.Receipt{}, &registry.AlreadyRegisteredError{Receipt: proofs.Receipt{
		Fingerprint: sub.Fingerprint,
		Address:     sub.Address,
		ChainID:     amoy,
	}}
}

func TestPublishRejectsDuplicateWithoutTransactionID(t *testing.T) {
	fx := newFixture(t, amoy)
	pub := New(untrackedDuplicateRegistry{registry.NewMemory(amoy)}, fx.connector, WithConfig(Config{MaxAttempts: 1}))
	receipt, err := pub.Publish(context.Background(), fingerprint(0x89), fx.identity)
	assert.Equal(t, xerrors.CodeRegistryUnreachable, xerrors.CodeOf(err))
	assert.Empty(t, receipt.TransactionID)
}
