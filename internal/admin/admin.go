// Package admin provides the proxy's minimal admin HTTP surface:
// /healthz, /metrics, and /debug/stats. Grounded on the teacher's
// internal/api/server.go chi+tollbooth+middleware stack, deliberately
// reduced to this narrow set — the teacher's DNS-lookup-submission REST
// API and Swagger docs are the "HTTP admin/query surface" spec.md §1
// places out of scope.
package admin

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sudo-tiz/dns-proxy-go/internal/config"
	"github.com/sudo-tiz/dns-proxy-go/internal/models"
)

// StatsProvider is implemented by whatever owns the live counters (the
// pipeline server plus telemetry tap); admin only needs a snapshot.
type StatsProvider interface {
	Stats() models.StatsResponse
	ThreatIndexLoaded() bool
}

// Server wraps a chi router exposing the admin surface.
type Server struct {
	router    *chi.Mux
	stats     StatsProvider
	startedAt time.Time
	registry  *prometheus.Registry
}

// NewServer configures the same middleware stack the teacher's
// internal/api/server.go does: tollbooth rate limiting, then chi's
// Logger/Recoverer/RequestID/RealIP. Rate limiting is always applied, since
// GetRateLimitRequestsPerSecond falls back to 10 for any non-positive value.
func NewServer(cfg *config.ProxyConfig, stats StatsProvider, registry *prometheus.Registry) *Server {
	s := &Server{router: chi.NewRouter(), stats: stats, startedAt: time.Now(), registry: registry}

	if cfg.GetRateLimitRequestsPerSecond() > 0 {
		lmt := tollbooth.NewLimiter(
			float64(cfg.GetRateLimitRequestsPerSecond()),
			&limiter.ExpirableOptions{DefaultExpirationTTL: 10 * time.Minute},
		)
		lmt.SetBurst(cfg.GetRateLimitBurstSize())

		ipSource := os.Getenv("RATE_LIMIT_IP_SOURCE")
		if ipSource == "" {
			ipSource = "RemoteAddr"
		}
		lmt.SetIPLookup(limiter.IPLookup{Name: ipSource, IndexFromRight: 0})
		lmt.SetMessage(`{"error":"rate limit exceeded"}`)
		lmt.SetMessageContentType("application/json")

		s.router.Use(func(next http.Handler) http.Handler {
			return tollbooth.HTTPMiddleware(lmt)(next)
		})
	}

	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/metrics", s.handleMetrics)
	s.router.Get("/debug/stats", s.handleStats)

	return s
}

// Router exposes the chi.Mux for use with net/http.Server or httptest.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:            "ok",
		ThreatIndexLoaded: s.stats.ThreatIndexLoaded(),
		UptimeSeconds:     time.Since(s.startedAt).Seconds(),
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.stats.Stats())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
