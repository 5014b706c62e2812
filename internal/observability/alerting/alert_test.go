package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ProofChain/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFromErrorCarriesStage(t *testing.T) {
	err := xerrors.Wrap(xerrors.CodeRegistryUnreachable, errors.New("timeout"), "", xerrors.WithStage("registry"))
	event := FromError(err, 3, 3)
	assert.Equal(t, xerrors.CodeRegistryUnreachable, event.Code)
	assert.Equal(t, xerrors.SeverityCritical, event.Severity)
	assert.Equal(t, "registry", event.Stage)
	assert.Equal(t, 3, event.Attempts)
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelAudit}
	failing := &recordingNotifier{channel: ChannelWebhook, err: errors.New("boom")}
	err := NewFanout(ok, failing, nil).Notify(context.Background(), Event{Code: xerrors.CodeUnknown})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel webhook")
	assert.Len(t, ok.events, 1)
	assert.Len(t, failing.events, 1)
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := &WebhookNotifier{URL: server.URL, Client: server.Client()}
	require.NoError(t, notifier.Notify(context.Background(), Event{Code: xerrors.CodeNetworkMismatch, ChainID: 80002}))
	assert.Equal(t, xerrors.CodeNetworkMismatch, got.Code)
	assert.Equal(t, uint64(80002), got.ChainID)
}
