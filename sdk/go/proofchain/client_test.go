package proofchain

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:8080", nil); err == nil {
		t.Fatal("expected error for url without scheme")
	}
}

func TestAnalyzeTextPostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/analyze-text" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["text"] != "hello world" {
			t.Fatalf("unexpected text %q", body["text"])
		}
		_ = json.NewEncoder(w).Encode(AnalysisResult{
			Success:   true,
			Analysis:  Analysis{Kind: "text", DetectedSummary: "Text analysis", Confidence: 0.9},
			ProofHash: testHash,
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	result, err := client.AnalyzeText(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("analyze text: %v", err)
	}
	if result.ProofHash != testHash || result.Analysis.Kind != "text" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestAnalyzeFileSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/analyze-video" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("video")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "clip.mp4" || string(data) != "frames" {
			t.Fatalf("unexpected upload %s %q", header.Filename, data)
		}
		_ = json.NewEncoder(w).Encode(AnalysisResult{Success: true, ProofHash: testHash})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	if _, err := client.AnalyzeFile(context.Background(), "video", "clip.mp4", strings.NewReader("frames")); err != nil {
		t.Fatalf("analyze file: %v", err)
	}
	if _, err := client.AnalyzeFile(context.Background(), "audio", "a.mp3", strings.NewReader("x")); err == nil {
		t.Fatal("expected unsupported kind error")
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"busy","code":"INVALID_STATE_TRANSITION","hint":"wait","session":{"id":"s-1","workflow":{"state":"Analyzing","busy":true}}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.Publish(context.Background(), "s-1")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "INVALID_STATE_TRANSITION" || apiErr.Message != "busy" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if apiErr.Session == nil || apiErr.Session.Workflow.State != "Analyzing" {
		t.Fatalf("expected session snapshot in error: %+v", apiErr.Session)
	}
	if ErrorCode(err) != "INVALID_STATE_TRANSITION" {
		t.Fatalf("unexpected error code %q", ErrorCode(err))
	}
}

func TestPlainTextErrorFallsBackToBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.Health(context.Background())
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Message != "gateway down" || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListProofsEncodesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prefix/api/v1/proofs" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("address") != "0xabc" || r.URL.Query().Get("limit") != "5" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"proofs": []Receipt{{
			TransactionID: "0xtx",
			Fingerprint:   testHash,
			ChainID:       80002,
			ConfirmedAt:   time.Unix(1700000000, 0).UTC(),
		}}})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL+"/prefix", srv.Client())
	receipts, err := client.ListProofs(context.Background(), ProofQuery{Address: "0xabc", Limit: 5})
	if err != nil {
		t.Fatalf("list proofs: %v", err)
	}
	if len(receipts) != 1 || receipts[0].TransactionID != "0xtx" {
		t.Fatalf("unexpected receipts: %+v", receipts)
	}
}

func TestSessionLifecycleRoutes(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/api/v1/sessions/s-1/cancel":
			_ = json.NewEncoder(w).Encode(map[string]any{"cancelled": true, "session": Session{ID: "s-1"}})
		case r.URL.Path == "/api/v1/sessions/s-1/content":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("parse multipart: %v", err)
			}
			if r.FormValue("kind") != "image" {
				t.Fatalf("unexpected kind %q", r.FormValue("kind"))
			}
			_ = json.NewEncoder(w).Encode(Session{ID: "s-1", Workflow: Workflow{State: "Analyzed", ProofHash: testHash}})
		default:
			_ = json.NewEncoder(w).Encode(Session{ID: "s-1", Workflow: Workflow{State: "Idle"}})
		}
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	ctx := context.Background()
	if _, err := client.CreateSession(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	session, err := client.SubmitFile(ctx, "s-1", "image", "a.png", strings.NewReader("png"))
	if err != nil || session.Workflow.ProofHash != testHash {
		t.Fatalf("submit file: %v %+v", err, session)
	}
	if _, err := client.ConnectWallet(ctx, "s-1"); err != nil {
		t.Fatalf("wallet: %v", err)
	}
	cancelled, _, err := client.Cancel(ctx, "s-1")
	if err != nil || !cancelled {
		t.Fatalf("cancel: %v %v", cancelled, err)
	}
	if _, err := client.Reset(ctx, "s-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := client.DeleteSession(ctx, "s-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []string{
		"POST /api/v1/sessions",
		"POST /api/v1/sessions/s-1/content",
		"POST /api/v1/sessions/s-1/wallet",
		"POST /api/v1/sessions/s-1/cancel",
		"POST /api/v1/sessions/s-1/reset",
		"DELETE /api/v1/sessions/s-1",
	}
	if len(seen) != len(want) {
		t.Fatalf("unexpected calls: %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("call %d: got %s want %s", i, seen[i], want[i])
		}
	}
}
