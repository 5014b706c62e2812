package ledger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProofChain/internal/events"
	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/observability/alerting"
	"ProofChain/internal/proofs"
	"ProofChain/internal/storage/receiptdb"
)

func sampleReceipt(seed byte) proofs.Receipt {
	var fp proofs.Fingerprint
	fp[0] = seed
	return proofs.Receipt{
		TransactionID: "0xfeed",
		Fingerprint:   fp,
		Address:       common.HexToAddress("0xABCDEF0123456789ABCDEF0123456789ABCDEF01"),
		ChainID:       80002,
		ConfirmedAt:   time.Date(2024, 5, 1, 0, 0, int(seed), 0, time.UTC),
	}
}

type failingStore struct {
	receiptdb.Store
	calls atomic.Int32
}

func (f *failingStore) Save(context.Context, proofs.Receipt) (bool, error) {
	f.calls.Add(1)
	return false, errors.New("disk full")
}

type recordingDispatcher struct {
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.events = append(d.events, event)
	return nil
}

func TestHandleRecordsOnceAndSkipsDuplicates(t *testing.T) {
	store, err := receiptdb.NewFileStore("")
	require.NoError(t, err)
	recorder := NewRecorder(store, nil)
	ctx := context.Background()

	receipt := sampleReceipt(1)
	require.NoError(t, recorder.Handle(ctx, events.NewProofPublished(receipt, false)))
	require.NoError(t, recorder.Handle(ctx, events.NewProofPublished(receipt, true)))

	list, err := store.List(ctx, receiptdb.Query{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, receipt, list[0])
}

func TestHandleIgnoresForeignEvents(t *testing.T) {
	store, err := receiptdb.NewFileStore("")
	require.NoError(t, err)
	recorder := NewRecorder(store, nil)

	require.NoError(t, recorder.Handle(context.Background(), events.Event{ID: "x", Type: "other"}))
	require.NoError(t, recorder.Handle(context.Background(), events.Event{ID: "y", Type: events.TypeProofPublished}))

	list, err := store.List(context.Background(), receiptdb.Query{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHandleStorageFailureAlertsOnLastDelivery(t *testing.T) {
	store := &failingStore{}
	dispatcher := &recordingDispatcher{}
	recorder := NewRecorder(store, nil, WithAlertDispatcher(dispatcher))

	event := events.NewProofPublished(sampleReceipt(2), false)
	err := recorder.Handle(context.Background(), event)
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeStorageFailure))
	assert.Empty(t, dispatcher.events)

	event.Attempts = events.MaxDeliveries - 1
	require.Error(t, recorder.Handle(context.Background(), event))
	require.Len(t, dispatcher.events, 1)
	assert.Equal(t, xerrors.CodeStorageFailure, dispatcher.events[0].Code)
	assert.Equal(t, event.Receipt.Fingerprint.Hex(), dispatcher.events[0].Fingerprint)
}

func TestStartConsumesFromMemoryBus(t *testing.T) {
	store, err := receiptdb.NewFileStore("")
	require.NoError(t, err)
	bus := events.NewMemoryBus(4)
	recorder := NewRecorder(store, bus, WithWorkerCount(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- recorder.Start(ctx) }()

	require.NoError(t, bus.Publish(ctx, events.NewProofPublished(sampleReceipt(3), false)))
	require.NoError(t, bus.Publish(ctx, events.NewProofPublished(sampleReceipt(4), false)))

	require.Eventually(t, func() bool {
		list, err := store.List(context.Background(), receiptdb.Query{})
		return err == nil && len(list) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStartRequiresConsumer(t *testing.T) {
	store, err := receiptdb.NewFileStore("")
	require.NoError(t, err)
	err = NewRecorder(store, nil).Start(context.Background())
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInitializationFailure))
}
