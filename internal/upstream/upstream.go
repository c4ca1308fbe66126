// Package upstream implements C6: a round-robin pool of upstream resolvers
// with per-endpoint health/cooldown tracking, UDP-first/TCP-fallback
// exchange, and bounded retry across endpoints. The per-attempt transport
// is grounded directly on the teacher's internal/resolver.performQuery,
// which builds an AdguardTeam/dnsproxy upstream.Upstream via
// upstream.AddressToUpstream and runs Exchange in a cancellable goroutine;
// this package adds the pool/health/round-robin layer the teacher's
// one-shot query tool never needed.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/dnsproxy/upstream"
	"github.com/miekg/dns"
)

// ErrUnavailable is returned when every configured endpoint has exhausted
// its attempts, corresponding to spec.md §7's UpstreamUnavailable.
var ErrUnavailable = errors.New("upstream: all endpoints exhausted")

// Config tunes the pool, matching spec.md §6's enumerated options.
type Config struct {
	Endpoints       []string
	Timeout         time.Duration
	MaxAttempts     int
	CooldownPeriod  time.Duration
}

// DefaultConfig matches spec.md §4.6's defaults.
func DefaultConfig(endpoints []string) Config {
	return Config{
		Endpoints:      endpoints,
		Timeout:        2 * time.Second,
		MaxAttempts:    3,
		CooldownPeriod: 30 * time.Second,
	}
}

type endpoint struct {
	target        string
	cooldownUntil atomic.Int64 // unix nano; 0 or past = healthy
}

func (e *endpoint) healthy(now time.Time) bool {
	until := e.cooldownUntil.Load()
	return until == 0 || now.UnixNano() >= until
}

func (e *endpoint) markUnhealthy(until time.Time) {
	e.cooldownUntil.Store(until.UnixNano())
}

// Pool is the shared upstream pool used by the query pipeline.
type Pool struct {
	cfg       Config
	endpoints []*endpoint
	cursor    atomic.Uint64
}

// NewPool constructs a Pool over cfg.Endpoints.
func NewPool(cfg Config) *Pool {
	p := &Pool{cfg: cfg}
	for _, t := range cfg.Endpoints {
		p.endpoints = append(p.endpoints, &endpoint{target: t})
	}
	return p
}

// Result is the outcome of a successful Exchange.
type Result struct {
	Response   *dns.Msg
	UpstreamID string
	RTT        time.Duration
}

// Exchange implements spec.md §4.6 step by step: round-robin over healthy
// endpoints, UDP attempt with TCP fallback on truncation/timeout, endpoint
// cooldown on exhaustion, bounded retries across endpoints. It preserves
// the caller's original transaction ID on the returned message.
func (p *Pool) Exchange(ctx context.Context, msg *dns.Msg) (*Result, error) {
	if len(p.endpoints) == 0 {
		return nil, ErrUnavailable
	}
	originalID := msg.Id

	attempts := p.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		ep := p.next()
		if ep == nil {
			break
		}

		resp, rtt, err := p.exchangeOne(ctx, ep, msg)
		if err == nil {
			resp.Id = originalID
			return &Result{Response: resp, UpstreamID: ep.target, RTT: rtt}, nil
		}
		lastErr = err
		ep.markUnhealthy(time.Now().Add(p.cfg.CooldownPeriod))
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
	}
	return nil, ErrUnavailable
}

// next returns the next healthy endpoint in round-robin order, or nil if
// none are healthy.
func (p *Pool) next() *endpoint {
	now := time.Now()
	n := len(p.endpoints)
	for i := 0; i < n; i++ {
		idx := int(p.cursor.Add(1)-1) % n
		ep := p.endpoints[idx]
		if ep.healthy(now) {
			return ep
		}
	}
	return nil
}

// exchangeOne performs one UDP attempt against ep, falling back to TCP on
// truncation or timeout, per spec.md §4.6 steps 2-3.
func (p *Pool) exchangeOne(ctx context.Context, ep *endpoint, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	resp, rtt, err := p.exchangeVia(ctx, "udp://"+ep.target, msg)
	if err == nil && !resp.Truncated {
		return resp, rtt, nil
	}
	return p.exchangeVia(ctx, "tcp://"+ep.target, msg)
}

// exchangeVia builds a single-protocol upstream.Upstream for scheme+target
// and exchanges msg over it in a cancellable goroutine, exactly like the
// teacher's performQuery.
func (p *Pool) exchangeVia(ctx context.Context, addr string, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	start := time.Now()

	up, err := upstream.AddressToUpstream(addr, &upstream.Options{Timeout: p.cfg.Timeout})
	if err != nil {
		return nil, 0, fmt.Errorf("upstream: create %s: %w", addr, err)
	}
	defer func() { _ = up.Close() }()

	type result struct {
		resp *dns.Msg
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		resp, err := up.Exchange(msg)
		resultCh <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("upstream: cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, 0, fmt.Errorf("upstream: exchange %s: %w", addr, res.err)
		}
		if res.resp == nil {
			return nil, 0, fmt.Errorf("upstream: no response from %s", addr)
		}
		return res.resp, time.Since(start), nil
	}
}

// Healthy reports the current health of each configured endpoint, for
// diagnostics/admin surfaces.
func (p *Pool) Healthy() map[string]bool {
	now := time.Now()
	out := make(map[string]bool, len(p.endpoints))
	for _, ep := range p.endpoints {
		out[ep.target] = ep.healthy(now)
	}
	return out
}
