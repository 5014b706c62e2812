package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/wallet"
	"ProofChain/internal/workflow"
)

func newFactory() Factory {
	return func() *workflow.Controller {
		return workflow.New(nil, nil, nil)
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(newFactory())
	s, err := m.Create()
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, workflow.StateIdle, s.Controller.State())

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, m.Delete(s.ID))
	_, err = m.Get(s.ID)
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(m.Delete(s.ID)))
}

func TestManagerExpiresIdleSessions(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	m := NewManager(newFactory(), WithTTL(time.Minute), WithClock(func() time.Time { return now }))

	s, err := m.Create()
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = m.Get(s.ID)
	require.NoError(t, err, "access refreshes the session")

	now = now.Add(2 * time.Minute)
	_, err = m.Get(s.ID)
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
	assert.Equal(t, 0, m.Len())
}

type countingWallet struct {
	disconnects atomic.Int32
}

func (w *countingWallet) Connect(context.Context) (wallet.Identity, error) {
	return wallet.Identity{}, nil
}

func (w *countingWallet) Disconnect() { w.disconnects.Add(1) }

func TestExpiredSessionDisconnectsWallet(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	w := &countingWallet{}
	factory := func() *workflow.Controller { return workflow.New(nil, w, nil) }
	m := NewManager(factory, WithTTL(time.Minute), WithClock(func() time.Time { return now }))

	s, err := m.Create()
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int32(1), w.disconnects.Load())
	assert.Equal(t, workflow.StateIdle, s.Controller.State())
}

func TestManagerLimit(t *testing.T) {
	m := NewManager(newFactory(), WithMaxSessions(1))
	_, err := m.Create()
	require.NoError(t, err)
	_, err = m.Create()
	assert.Error(t, err)
}
