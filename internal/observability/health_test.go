package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz_AlwaysOK(t *testing.T) {
	hs := NewHealthServer()
	rec := serve(t, hs.Handler(nil), "GET", "/healthz")

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestReadyz_NotReadyByDefault(t *testing.T) {
	hs := NewHealthServer()
	rec := serve(t, hs.Handler(nil), "GET", "/readyz")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestReadyz_ReadyReportsFlows(t *testing.T) {
	hs := NewHealthServer()
	hs.SetFlows(3)
	hs.SetReady(true)
	rec := serve(t, hs.Handler(nil), "GET", "/readyz")

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("expected status ready, got %v", body["status"])
	}
	if body["flows"] != float64(3) {
		t.Errorf("expected 3 flows, got %v", body["flows"])
	}
}

func TestReadyz_BackToNotReady(t *testing.T) {
	hs := NewHealthServer()
	hs.SetReady(true)
	hs.SetReady(false)
	rec := serve(t, hs.Handler(nil), "GET", "/readyz")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordEvent("amigo-logs", StatusForwarded)

	hs := NewHealthServer()
	rec := serve(t, hs.Handler(reg), "GET", "/metrics")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `beatshim_events_total{flow="amigo-logs",status="forwarded"} 1`) {
		t.Errorf("expected events counter in body, got:\n%s", rec.Body.String())
	}
}

func TestMetricsEndpoint_AbsentWithoutGatherer(t *testing.T) {
	hs := NewHealthServer()
	rec := serve(t, hs.Handler(nil), "GET", "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
