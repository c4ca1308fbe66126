// Package models holds the query pipeline's cross-cutting data transfer
// types: QueryRecord, the per-query telemetry record spec.md §3 defines,
// and the admin surface's DTOs. Adapted from the teacher's
// internal/models, which played the same "shared DTO" role for its
// lookup-request/response types.
package models

import (
	"net"
	"time"

	"github.com/sudo-tiz/dns-proxy-go/internal/dnsname"
)

// QueryRecord is spec.md §3's per-query telemetry record, handed to the
// telemetry tap exactly once per accepted datagram.
type QueryRecord struct {
	ID              string           `json:"id"`
	Key             dnsname.QueryKey `json:"key"`
	ClientAddr      net.Addr         `json:"-"`
	ClientAddrStr   string           `json:"client_addr"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	ResponseCode    string           `json:"response_code"`
	ThreatDetected  bool             `json:"threat_detected"`
	CacheHit        bool             `json:"cache_hit"`
	UpstreamUsed    string           `json:"upstream_used,omitempty"`
	DecisionReasons []string         `json:"decision_reasons,omitempty"`
	TypoSuggestion  string           `json:"typo_suggestion,omitempty"`
}

// Latency is FinishedAt - StartedAt, the pipeline-latency accounting
// spec.md §4.7 mandates on every terminal transition.
func (r QueryRecord) Latency() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// HealthResponse is the admin mux's /healthz payload.
type HealthResponse struct {
	Status            string  `json:"status" example:"ok"`
	ThreatIndexLoaded bool    `json:"threat_index_loaded"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// StatsResponse is the admin mux's /debug/stats payload, recovering the
// per-process counter snapshot original_source/src/dns/mod.rs's
// ServerStats exposes (not named in spec.md §8 scenarios but implied by
// §5's "Counters" paragraph).
type StatsResponse struct {
	TotalQueries     uint64  `json:"total_queries"`
	CacheHits        uint64  `json:"cache_hits"`
	ThreatsBlocked   uint64  `json:"threats_blocked"`
	TypoSuggestions  uint64  `json:"typo_suggestions"`
	ParseErrors      uint64  `json:"parse_errors"`
	UpstreamErrors   uint64  `json:"upstream_errors"`
	TelemetryDropped uint64  `json:"telemetry_dropped"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
}

// ErrorResponse is a uniform admin-mux error payload.
type ErrorResponse struct {
	Error string `json:"error" example:"threat index not yet loaded"`
}
