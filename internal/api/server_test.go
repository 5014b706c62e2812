package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProofChain/internal/analysis"
	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/proofs"
	"ProofChain/internal/publisher"
	"ProofChain/internal/registry"
	"ProofChain/internal/session"
	"ProofChain/internal/storage/receiptdb"
	"ProofChain/internal/wallet"
	"ProofChain/internal/workflow"
)

const amoy = 80002

type fixture struct {
	server   *Server
	handler  http.Handler
	signer   common.Address
	receipts *receiptdb.FileStore
}

func newFixture(t *testing.T, maxPayload int64) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	newPublisher := func() (*wallet.Connector, *publisher.Publisher) {
		connector := wallet.NewConnector(wallet.NewKeyProvider(key, amoy))
		pub := publisher.New(registry.NewMemory(amoy), connector,
			publisher.WithSleep(func(context.Context, time.Duration) error { return nil }))
		return connector, pub
	}

	gateway := analysis.NewGateway(analysis.NewStubAnalyzer(), analysis.WithMaxPayload(maxPayload))
	sessions := session.NewManager(func() *workflow.Controller {
		connector, pub := newPublisher()
		return workflow.New(gateway, connector, pub)
	})
	store, err := receiptdb.NewFileStore("")
	require.NoError(t, err)

	connector, pub := newPublisher()
	server := NewServer(":0", gateway,
		WithPublishing(connector, pub),
		WithSessions(sessions),
		WithReceipts(store),
	)
	return &fixture{
		server:   server,
		handler:  server.Handler(),
		signer:   crypto.PubkeyToAddress(key.PublicKey),
		receipts: store,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, path, field, filename string, content []byte, extra map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for k, v := range extra {
		require.NoError(t, form.WriteField(k, v))
	}
	if field != "" {
		part, err := form.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 1<<20)
	rec := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestAnalyzeText(t *testing.T) {
	f := newFixture(t, 1<<20)

	rec := f.do(t, http.MethodPost, "/api/analyze-text", map[string]string{"text": "hello world"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Success   bool            `json:"success"`
		Analysis  analysis.Record `json:"analysis"`
		ProofHash string          `json:"proofHash"`
	}](t, rec)
	assert.True(t, body.Success)
	assert.EqualValues(t, 2, body.Analysis.Metadata["wordCount"])
	_, err := proofs.ParseFingerprint(body.ProofHash)
	assert.NoError(t, err)

	rec = f.do(t, http.MethodPost, "/api/analyze-text", map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := decode[errorResponse](t, rec)
	assert.Equal(t, xerrors.CodeInputInvalid, errBody.Code)
	assert.NotEmpty(t, errBody.Hint)

	rec = f.do(t, http.MethodPost, "/api/analyze-text", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeImageUpload(t *testing.T) {
	f := newFixture(t, 1<<20)

	rec := f.upload(t, "/api/analyze-image", "image", "dot.png", pngBytes(t), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[analysisResponse](t, rec)
	assert.EqualValues(t, 4, body.Analysis.Metadata["width"])
	assert.EqualValues(t, 3, body.Analysis.Metadata["height"])
	assert.Equal(t, "dot.png", body.Analysis.Metadata["filename"])

	rec = f.upload(t, "/api/analyze-image", "", "", nil, map[string]string{"note": "no file"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "No image file provided")

	rec = f.do(t, http.MethodPost, "/api/analyze-video", map[string]string{"text": "not multipart"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeRejectsOversizedUpload(t *testing.T) {
	f := newFixture(t, 16)
	rec := f.upload(t, "/api/analyze-video", "video", "clip.mp4", bytes.Repeat([]byte{1}, 64), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, xerrors.CodePayloadTooLarge, decode[errorResponse](t, rec).Code)
}

func TestPublishProof(t *testing.T) {
	f := newFixture(t, 1<<20)
	var fp proofs.Fingerprint
	fp[0], fp[31] = 0xab, 0xcd

	rec := f.do(t, http.MethodPost, "/api/publish-proof", map[string]string{"proofHash": fp.Hex()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/publish-proof", map[string]string{
		"proofHash":     fp.Hex(),
		"walletAddress": "0x000000000000000000000000000000000000dead",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "does not match")

	rec = f.do(t, http.MethodPost, "/api/publish-proof", map[string]string{
		"proofHash":     "0x1234",
		"walletAddress": f.signer.Hex(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	request := map[string]string{"proofHash": fp.Hex(), "walletAddress": strings.ToLower(f.signer.Hex())}
	rec = f.do(t, http.MethodPost, "/api/publish-proof", request)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[publishResponse](t, rec)
	assert.True(t, first.Success)
	assert.NotEmpty(t, first.TxHash)
	assert.Equal(t, fp.Hex(), first.ProofHash)
	assert.Equal(t, uint64(amoy), first.ChainID)

	rec = f.do(t, http.MethodPost, "/api/publish-proof", request)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.TxHash, decode[publishResponse](t, rec).TxHash)
}

func TestSessionWorkflow(t *testing.T) {
	f := newFixture(t, 1<<20)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[sessionView](t, rec)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, workflow.StateIdle, created.Workflow.State)
	base := "/api/v1/sessions/" + created.ID

	rec = f.do(t, http.MethodPost, base+"/wallet", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, xerrors.CodeInvalidStateTransition, decode[errorResponse](t, rec).Code)

	rec = f.do(t, http.MethodPost, base+"/content", map[string]string{"text": "hello world"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	analyzed := decode[sessionView](t, rec)
	assert.Equal(t, workflow.StateAnalyzed, analyzed.Workflow.State)
	require.NotNil(t, analyzed.Workflow.Fingerprint)

	rec = f.do(t, http.MethodPost, base+"/wallet", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	connected := decode[sessionView](t, rec)
	require.NotNil(t, connected.Workflow.Identity)
	assert.Equal(t, f.signer, connected.Workflow.Identity.Address)

	rec = f.do(t, http.MethodPost, base+"/proof", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	published := decode[sessionView](t, rec)
	assert.Equal(t, workflow.StateProofPublished, published.Workflow.State)
	require.NotNil(t, published.Workflow.Receipt)
	assert.Equal(t, *analyzed.Workflow.Fingerprint, published.Workflow.Receipt.Fingerprint)

	rec = f.do(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workflow.StateIdle, decode[sessionView](t, rec).Workflow.State)

	rec = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionContentFailuresAreReported(t *testing.T) {
	f := newFixture(t, 1<<20)
	created := decode[sessionView](t, f.do(t, http.MethodPost, "/api/v1/sessions", nil))
	base := "/api/v1/sessions/" + created.ID

	rec := f.do(t, http.MethodPost, base+"/content", map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, xerrors.CodeInputInvalid, body.Code)
	require.NotNil(t, body.Session)
	assert.Equal(t, workflow.StateFailed, body.Session.Workflow.State)

	rec = f.upload(t, base+"/content", "file", "dot.png", pngBytes(t), map[string]string{"kind": "image"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[sessionView](t, rec)
	require.NotNil(t, view.Workflow.Record)
	assert.Equal(t, analysis.KindImage, view.Workflow.Record.Kind)

	rec = f.do(t, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancelled":false`)
}

func TestProofLedgerEndpoints(t *testing.T) {
	f := newFixture(t, 1<<20)
	owner := common.HexToAddress("0xABCDEF0123456789ABCDEF0123456789ABCDEF01")
	var fp proofs.Fingerprint
	fp[0] = 7
	receipt := proofs.Receipt{
		TransactionID: "0xbeef",
		Fingerprint:   fp,
		Address:       owner,
		ChainID:       amoy,
		ConfirmedAt:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := f.receipts.Save(context.Background(), receipt)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/proofs?address="+owner.Hex()+"&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[proofsResponse](t, rec)
	require.Len(t, list.Proofs, 1)
	assert.Equal(t, "0xbeef", list.Proofs[0].TransactionID)

	rec = f.do(t, http.MethodGet, "/api/v1/proofs?address=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/proofs/"+fp.Hex()+"?address="+owner.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, receipt, decode[proofs.Receipt](t, rec))

	rec = f.do(t, http.MethodGet, "/api/v1/proofs/"+fp.Hex()+"?address=0x000000000000000000000000000000000000dead", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, 1<<20)
	f.do(t, http.MethodGet, "/api/health", nil)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "proofchain_http_requests_total")
}
