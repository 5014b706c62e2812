package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProofChain/sdk/go/proofchain"
)

const testHash = "0x2222222222222222222222222222222222222222222222222222222222222222"

func runCmd(t *testing.T, server string, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestAnalyzeTextFromStdin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "from stdin", body["text"])
		_ = json.NewEncoder(w).Encode(proofchain.AnalysisResult{
			Success:   true,
			Analysis:  proofchain.Analysis{Kind: "text", DetectedSummary: "Text analysis", Confidence: 0.9},
			ProofHash: testHash,
		})
	}))
	defer srv.Close()

	out, err := runCmd(t, srv.URL, "from stdin", "analyze", "text")
	require.NoError(t, err)
	assert.Contains(t, out, testHash)
	assert.Contains(t, out, "confidence: 0.90")
}

func TestPublishRequiresFlags(t *testing.T) {
	_, err := runCmd(t, "http://127.0.0.1:1", "", "publish", "--hash", testHash)
	require.Error(t, err)
}

func TestProofsPrintsReceipts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/proofs", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{"proofs": []proofchain.Receipt{{
			TransactionID: "0xtx",
			Fingerprint:   testHash,
			Address:       "0x00000000000000000000000000000000000000aa",
			ChainID:       80002,
		}}})
	}))
	defer srv.Close()

	out, err := runCmd(t, srv.URL, "", "proofs", "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "0xtx")
	assert.Contains(t, out, "chain=80002")
}

func TestProofLookupNeedsAddress(t *testing.T) {
	_, err := runCmd(t, "http://127.0.0.1:1", "", "proofs", testHash)
	require.Error(t, err)
}

func TestServerErrorsSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"No text provided","code":"INPUT_INVALID"}`))
	}))
	defer srv.Close()

	_, err := runCmd(t, srv.URL, "", "analyze", "text", "-")
	require.Error(t, err)
	assert.Equal(t, "INPUT_INVALID", proofchain.ErrorCode(err))
}
