package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sudo-tiz/dns-proxy-go/internal/config"
	"github.com/sudo-tiz/dns-proxy-go/internal/models"
)

type fakeStats struct {
	loaded bool
	stats  models.StatsResponse
}

func (f *fakeStats) Stats() models.StatsResponse { return f.stats }
func (f *fakeStats) ThreatIndexLoaded() bool      { return f.loaded }

func setupTestServer() *Server {
	cfg := &config.ProxyConfig{}
	registry := prometheus.NewRegistry()
	return NewServer(cfg, &fakeStats{loaded: true, stats: models.StatsResponse{TotalQueries: 42}}, registry)
}

func TestHealthzEndpoint(t *testing.T) {
	s := setupTestServer()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp models.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if !resp.ThreatIndexLoaded {
		t.Error("expected ThreatIndexLoaded = true")
	}
}

func TestDebugStatsEndpoint(t *testing.T) {
	s := setupTestServer()

	req := httptest.NewRequest(http.MethodGet, "/debug/stats", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp models.StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalQueries != 42 {
		t.Errorf("TotalQueries = %d, want 42", resp.TotalQueries)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := setupTestServer()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain prefix", w.Header().Get("Content-Type"))
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	s := setupTestServer()

	req := httptest.NewRequest(http.MethodGet, "/dns-lookup", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for the out-of-scope admin/query surface", w.Code)
	}
}
