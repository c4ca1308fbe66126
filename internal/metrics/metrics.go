// Package metrics defines the Prometheus collectors the pipeline updates.
// The teacher's own internal/metrics package is referenced by every file
// that imports it (metrics.DNSLookupErrors.WithLabelValues(...).Inc(), a
// RecordQueryMetrics helper, counter/histogram vectors keyed by rcode and
// qtype) but was not present in the retrieved pack; this package
// reconstructs that shape and repurposes it for the proxy's own counters
// (spec.md §5's "Counters" paragraph: total queries, cache hits, threats
// blocked, upstream errors, average latency).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// QueriesTotal counts accepted datagrams by outcome.
	QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dnsproxy_queries_total",
		Help: "Total DNS queries processed, labeled by verdict.",
	}, []string{"verdict"})

	// CacheHitsTotal / CacheMissesTotal track C5 outcomes.
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnsproxy_cache_hits_total",
		Help: "Total response cache hits.",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnsproxy_cache_misses_total",
		Help: "Total response cache misses.",
	})

	// ThreatsBlockedTotal counts C3 Block verdicts.
	ThreatsBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnsproxy_threats_blocked_total",
		Help: "Total queries blocked by the classifier or threat index.",
	})

	// TypoSuggestionsTotal counts C4 suggestions offered (original_source's
	// ai_suggestions counter, tracked separately from threats_blocked).
	TypoSuggestionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnsproxy_typo_suggestions_total",
		Help: "Total typo-correction suggestions produced.",
	})

	// UpstreamErrorsTotal counts C6 failures by upstream target.
	UpstreamErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dnsproxy_upstream_errors_total",
		Help: "Total upstream exchange failures, labeled by upstream target.",
	}, []string{"upstream"})

	// ParseErrorsTotal counts malformed inbound datagrams (spec.md §7
	// ParseError).
	ParseErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnsproxy_parse_errors_total",
		Help: "Total inbound datagrams dropped for failing to parse.",
	})

	// TelemetryDroppedTotal counts records dropped by the non-blocking
	// telemetry tap (spec.md §7 TelemetryDropped).
	TelemetryDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnsproxy_telemetry_dropped_total",
		Help: "Total telemetry records dropped because the queue was full.",
	})

	// QueryDuration is the end-to-end pipeline latency histogram.
	QueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dnsproxy_query_duration_seconds",
		Help:    "Pipeline latency from datagram receipt to reply send.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
)

// Registry is the collector registry the admin mux's /metrics handler
// serves. Tests may construct their own to avoid the global default
// registry's cross-test collisions.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		QueriesTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		ThreatsBlockedTotal,
		TypoSuggestionsTotal,
		UpstreamErrorsTotal,
		ParseErrorsTotal,
		TelemetryDroppedTotal,
		QueryDuration,
	)
}

// EMA is an exponentially weighted moving average, the latency tracking
// primitive spec.md's GLOSSARY names. spec.md §5 calls for either a
// single-writer discipline or a mutex around the running average; since the
// pipeline observes latency from a goroutine spawned per inbound datagram
// (no single writer exists), EMA takes the mutex option.
type EMA struct {
	mu    sync.Mutex
	alpha float64
	value float64
	ready bool
}

// NewEMA builds an EMA with smoothing factor alpha in (0, 1]. Grounded on
// original_source/src/dns/mod.rs's ServerStats, whose avg_response_time_ms
// update is `avg = avg*0.9 + sample*0.1` (alpha = 0.1).
func NewEMA(alpha float64) *EMA {
	return &EMA{alpha: alpha}
}

// Observe folds sample into the running average.
func (e *EMA) Observe(sample time.Duration) {
	v := sample.Seconds()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		e.value = v
		e.ready = true
		return
	}
	e.value = e.value*(1-e.alpha) + v*e.alpha
}

// Value returns the current average in seconds.
func (e *EMA) Value() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Duration(e.value * float64(time.Second))
}
