package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesObservations(t *testing.T) {
	ObserveHTTPRequest("/api/health", "GET", 200, 15*time.Millisecond)
	ObserveHTTPRequest("/api/publish-proof", "POST", 500, time.Second)
	ObservePublish("success", 2)
	ObserveTransition("analyzed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		`proofchain_http_requests_total{code="200",handler="/api/health",method="GET"} 1`,
		`proofchain_http_request_errors_total{handler="/api/publish-proof",method="POST"} 1`,
		`proofchain_publish_outcomes_total{outcome="success"} 1`,
		`proofchain_workflow_transitions_total{state="analyzed"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
