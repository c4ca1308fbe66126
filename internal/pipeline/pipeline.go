// Package pipeline implements C7: the per-datagram query pipeline state
// machine described in spec.md §4.7, orchestrating the threat index (C2),
// classifier (C3), typo corrector (C4), response cache (C5), upstream pool
// (C6), and telemetry tap (C8). The UDP listener shape is grounded on
// feng2208/adblocker's minimal dns.Server-less PacketConn loop; the
// goroutine-per-datagram dispatch mirrors the teacher's
// resolver.RunQueries fan-out idiom, generalized from a bounded semaphore
// to the unbounded per-datagram spawn spec.md §5 calls for.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"

	"github.com/sudo-tiz/dns-proxy-go/internal/classifier"
	"github.com/sudo-tiz/dns-proxy-go/internal/dnsname"
	"github.com/sudo-tiz/dns-proxy-go/internal/features"
	"github.com/sudo-tiz/dns-proxy-go/internal/metrics"
	"github.com/sudo-tiz/dns-proxy-go/internal/models"
	"github.com/sudo-tiz/dns-proxy-go/internal/respcache"
	"github.com/sudo-tiz/dns-proxy-go/internal/telemetry"
	"github.com/sudo-tiz/dns-proxy-go/internal/threatindex"
	"github.com/sudo-tiz/dns-proxy-go/internal/typocorrect"
	"github.com/sudo-tiz/dns-proxy-go/internal/upstream"
)

const maxClientDatagram = 512

// Upstream is the subset of *upstream.Pool the pipeline depends on; tests
// substitute a fake to avoid real network I/O.
type Upstream interface {
	Exchange(ctx context.Context, msg *dns.Msg) (*upstream.Result, error)
}

// Config holds the pipeline's behavioral toggles (spec.md §6).
type Config struct {
	EnableClassifier  bool
	EnableTypoSuggest bool
	PipelineDeadline  time.Duration
}

// Server owns the UDP listener and every shared component the pipeline
// touches. No component is a package-level singleton: everything is passed
// in at construction, per spec.md §9.
type Server struct {
	cfg Config

	index      *threatindex.Index
	cache      *respcache.Cache
	pool       Upstream
	weights    classifier.Weights
	featureCfg features.Config
	corrector  *typocorrect.Corrector
	tap        *telemetry.Tap
	log        *slog.Logger

	conn net.PacketConn

	inFlightMu sync.Mutex
	inFlight   map[dupKey]struct{}

	stats serverStats
}

// serverStats mirrors original_source's ServerStats: a lightweight
// in-process counter set for the /debug/stats convenience endpoint,
// independent of the Prometheus registry that /metrics scrapes.
type serverStats struct {
	totalQueries     atomic.Uint64
	cacheHits        atomic.Uint64
	threatsBlocked   atomic.Uint64
	typoSuggestions  atomic.Uint64
	parseErrors      atomic.Uint64
	upstreamErrors   atomic.Uint64
	telemetryDropped atomic.Uint64
	latency          *metrics.EMA
}

type dupKey struct {
	addr string
	id   uint16
}

// New constructs a Server. conn must already be bound (e.g. via
// net.ListenPacket("udp", addr)).
func New(
	conn net.PacketConn,
	cfg Config,
	index *threatindex.Index,
	cache *respcache.Cache,
	pool Upstream,
	weights classifier.Weights,
	featureCfg features.Config,
	corrector *typocorrect.Corrector,
	tap *telemetry.Tap,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PipelineDeadline <= 0 {
		cfg.PipelineDeadline = 5 * time.Second
	}
	return &Server{
		cfg:        cfg,
		index:      index,
		cache:      cache,
		pool:       pool,
		weights:    weights,
		featureCfg: featureCfg,
		corrector:  corrector,
		tap:        tap,
		log:        log,
		conn:       conn,
		inFlight:   make(map[dupKey]struct{}),
		stats:      serverStats{latency: metrics.NewEMA(0.1)},
	}
}

// Stats returns a point-in-time snapshot for the admin /debug/stats
// endpoint, grounded on original_source's ServerStats response shape.
func (s *Server) Stats() models.StatsResponse {
	return models.StatsResponse{
		TotalQueries:      s.stats.totalQueries.Load(),
		CacheHits:         s.stats.cacheHits.Load(),
		ThreatsBlocked:    s.stats.threatsBlocked.Load(),
		TypoSuggestions:   s.stats.typoSuggestions.Load(),
		ParseErrors:       s.stats.parseErrors.Load(),
		UpstreamErrors:    s.stats.upstreamErrors.Load(),
		TelemetryDropped:  s.tap.Dropped(),
		AvgLatencyMS:      float64(s.stats.latency.Value()) / float64(time.Millisecond),
	}
}

// ThreatIndexLoaded reports whether the threat index currently holds any
// entries, used by the admin /healthz endpoint.
func (s *Server) ThreatIndexLoaded() bool {
	return s.index.Len() > 0
}

// Serve runs the listener loop until ctx is cancelled or the socket errors.
// Each accepted datagram is dispatched to its own goroutine, per spec.md §5.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	buf := make([]byte, maxClientDatagram)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("udp read failed", "error", err)
			return err
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		go s.handleDatagram(ctx, datagram, addr)
	}
}

func (s *Server) handleDatagram(parent context.Context, datagram []byte, addr net.Addr) {
	startedAt := time.Now()

	req := new(dns.Msg)
	if err := req.Unpack(datagram); err != nil {
		metrics.ParseErrorsTotal.Inc()
		s.stats.parseErrors.Add(1)
		return // spec.md §4.7/§7: ParseError -> silent drop, no telemetry record
	}

	key := dupKey{addr: addr.String(), id: req.Id}
	if !s.claimInFlight(key) {
		// spec.md §4.7: duplicate transaction ID/address while the
		// original is still in flight; let the original complete.
		return
	}
	defer s.releaseInFlight(key)

	ctx, cancel := context.WithTimeout(parent, s.cfg.PipelineDeadline)
	defer cancel()

	record := models.QueryRecord{ID: hexID(), ClientAddr: addr, ClientAddrStr: addr.String(), StartedAt: startedAt}

	resp, finish := s.process(ctx, req, &record)
	record.FinishedAt = time.Now()
	metrics.QueryDuration.Observe(record.Latency().Seconds())
	s.stats.totalQueries.Add(1)
	s.stats.latency.Observe(record.Latency())

	if resp != nil {
		out, err := resp.Pack()
		if err == nil {
			_, _ = s.conn.WriteTo(out, addr)
		}
	}
	finish(record)
}

// process runs the Parsed->Classified->... state machine and returns the
// reply to send (nil if none) plus a function the caller invokes with the
// finished record to hand it to telemetry. The response cache is consulted
// first, before C2/C3 run: a name already carrying a synthesized block
// entry (or a normal resolved one) is served straight from cache instead of
// reclassifying it on every repeat query.
func (s *Server) process(ctx context.Context, req *dns.Msg, record *models.QueryRecord) (*dns.Msg, func(models.QueryRecord)) {
	record.ResponseCode = "NOERROR"

	if len(req.Question) != 1 {
		metrics.QueriesTotal.WithLabelValues("formerr").Inc()
		record.ResponseCode = "FORMERR"
		return s.reply(req, dns.RcodeFormatError), s.tap.Offer
	}
	q := req.Question[0]

	name, err := dnsname.Normalize(q.Name)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("formerr").Inc()
		record.ResponseCode = "FORMERR"
		return s.reply(req, dns.RcodeFormatError), s.tap.Offer
	}
	key := dnsname.QueryKey{Name: name, QType: q.Qtype}
	record.Key = key

	res := s.cache.Lookup(key)
	switch {
	case res.Entry != nil:
		return s.serveCacheEntry(req, res.Entry, record)
	case res.Wait != nil:
		return s.awaitFill(ctx, req, res.Wait, record)
	default: // Filler: this goroutine owns the fill and must Store or Abort.
		return s.classifyAndFill(ctx, req, key, name, record)
	}
}

// serveCacheEntry replies from a live cache entry. Synthesized marks a
// previously blocked name, so the telemetry record still reflects the
// threat verdict even though C2/C3 didn't run this time.
func (s *Server) serveCacheEntry(req *dns.Msg, entry *respcache.Entry, record *models.QueryRecord) (*dns.Msg, func(models.QueryRecord)) {
	metrics.CacheHitsTotal.Inc()
	s.stats.cacheHits.Add(1)
	record.CacheHit = true
	resp := new(dns.Msg)
	if err := resp.Unpack(entry.Wire); err != nil {
		record.ResponseCode = "SERVFAIL"
		return s.reply(req, dns.RcodeServerFailure), s.tap.Offer
	}
	resp.Id = req.Id
	record.ResponseCode = dns.RcodeToString[resp.Rcode]
	if entry.Synthesized {
		record.ThreatDetected = true
	}
	return resp, s.tap.Offer
}

func (s *Server) awaitFill(ctx context.Context, req *dns.Msg, wait <-chan respcache.FillResult, record *models.QueryRecord) (*dns.Msg, func(models.QueryRecord)) {
	metrics.CacheMissesTotal.Inc()
	select {
	case fr := <-wait:
		if fr.Err != nil || fr.Entry == nil {
			record.ResponseCode = "SERVFAIL"
			return s.reply(req, dns.RcodeServerFailure), s.tap.Offer
		}
		resp := new(dns.Msg)
		if err := resp.Unpack(fr.Entry.Wire); err != nil {
			record.ResponseCode = "SERVFAIL"
			return s.reply(req, dns.RcodeServerFailure), s.tap.Offer
		}
		resp.Id = req.Id
		record.ResponseCode = dns.RcodeToString[resp.Rcode]
		if fr.Entry.Synthesized {
			record.ThreatDetected = true
		}
		return resp, s.tap.Offer
	case <-ctx.Done():
		record.ResponseCode = "TIMEOUT"
		return nil, s.tap.Offer
	}
}

// classifyAndFill runs C2/C3/C4 on a cache miss and fills the slot this
// goroutine claimed as Lookup's Filler.
func (s *Server) classifyAndFill(ctx context.Context, req *dns.Msg, key dnsname.QueryKey, name dnsname.Name, record *models.QueryRecord) (*dns.Msg, func(models.QueryRecord)) {
	metrics.CacheMissesTotal.Inc()

	inThreatSet := s.index.Contains(name)

	var decision classifier.Decision
	if s.cfg.EnableClassifier {
		fv := features.Of(name, s.featureCfg)
		decision = classifier.Decide(fv, inThreatSet, s.weights)
	} else if inThreatSet {
		decision = classifier.Decision{Verdict: classifier.Block, Reasons: []string{"known_malicious"}, Confidence: 0.95}
	}
	record.DecisionReasons = decision.Reasons

	if decision.Verdict == classifier.Block {
		metrics.ThreatsBlockedTotal.Inc()
		metrics.QueriesTotal.WithLabelValues("block").Inc()
		s.stats.threatsBlocked.Add(1)
		record.ThreatDetected = true
		record.ResponseCode = "NXDOMAIN"
		resp := s.synthesizeBlock(req)
		s.cacheSynthesized(key, resp)
		return resp, s.tap.Offer
	}

	metrics.QueriesTotal.WithLabelValues(decision.Verdict.String()).Inc()

	if s.cfg.EnableTypoSuggest && s.corrector != nil {
		if suggestion, ok := s.corrector.Suggest(name); ok {
			record.TypoSuggestion = string(suggestion)
			metrics.TypoSuggestionsTotal.Inc()
			s.stats.typoSuggestions.Add(1)
		}
	}

	return s.resolveAndStore(ctx, req, key, record)
}

func (s *Server) resolveAndStore(ctx context.Context, req *dns.Msg, key dnsname.QueryKey, record *models.QueryRecord) (*dns.Msg, func(models.QueryRecord)) {
	upMsg := req.Copy()
	result, err := s.pool.Exchange(ctx, upMsg)
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues("pool").Inc()
		s.stats.upstreamErrors.Add(1)
		s.cache.Abort(key, err)
		record.ResponseCode = "SERVFAIL"
		return s.reply(req, dns.RcodeServerFailure), s.tap.Offer
	}

	record.UpstreamUsed = result.UpstreamID
	resp := result.Response
	resp.Id = req.Id

	wire, packErr := resp.Pack()
	if packErr != nil {
		s.cache.Abort(key, packErr)
		record.ResponseCode = "SERVFAIL"
		return s.reply(req, dns.RcodeServerFailure), s.tap.Offer
	}

	ttl := s.cache.ComputeTTL(respcache.MinTTLOf(resp))
	entry := &respcache.Entry{
		Wire:       wire,
		InsertedAt: time.Now(),
		ExpiresAt:  time.Now().Add(ttl),
		UpstreamID: result.UpstreamID,
	}
	s.cache.Store(key, entry)

	record.ResponseCode = dns.RcodeToString[resp.Rcode]
	return resp, s.tap.Offer
}

// synthesizeBlock builds spec.md §4.7's blocked-response: same question,
// RCODE=NXDOMAIN, empty answer/authority/additional, ID and flags copied
// (QR set, RA set, RD echoed).
func (s *Server) synthesizeBlock(req *dns.Msg) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetRcode(req, dns.RcodeNameError)
	resp.RecursionAvailable = true
	resp.RecursionDesired = req.RecursionDesired
	resp.Answer = nil
	resp.Ns = nil
	resp.Extra = nil
	return resp
}

// cacheSynthesized stores a synthesized block response under the fixed
// short block TTL (spec.md §4.5) so an identical subsequent query can be
// served from cache instead of re-running classification.
func (s *Server) cacheSynthesized(key dnsname.QueryKey, resp *dns.Msg) {
	wire, err := resp.Pack()
	if err != nil {
		return
	}
	s.cache.Store(key, &respcache.Entry{
		Wire:        wire,
		InsertedAt:  time.Now(),
		ExpiresAt:   time.Now().Add(s.cache.BlockTTL()),
		Synthesized: true,
	})
}

func (s *Server) reply(req *dns.Msg, rcode int) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetRcode(req, rcode)
	resp.RecursionAvailable = true
	resp.RecursionDesired = req.RecursionDesired
	return resp
}

func (s *Server) claimInFlight(key dupKey) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if _, ok := s.inFlight[key]; ok {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Server) releaseInFlight(key dupKey) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, key)
}

func hexID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
