package upstream

import (
	"context"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func TestExchangeNoEndpointsIsUnavailable(t *testing.T) {
	p := NewPool(DefaultConfig(nil))
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)

	_, err := p.Exchange(context.Background(), msg)
	if err != ErrUnavailable {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestRoundRobinCyclesEndpoints(t *testing.T) {
	p := NewPool(Config{Endpoints: []string{"a:53", "b:53", "c:53"}, MaxAttempts: 1})
	seen := map[string]int{}
	for i := 0; i < 6; i++ {
		ep := p.next()
		if ep == nil {
			t.Fatal("expected a healthy endpoint")
		}
		seen[ep.target]++
	}
	for _, target := range []string{"a:53", "b:53", "c:53"} {
		if seen[target] != 2 {
			t.Fatalf("endpoint %s seen %d times, want 2", target, seen[target])
		}
	}
}

func TestUnhealthyEndpointSkippedUntilCooldownExpires(t *testing.T) {
	p := NewPool(Config{Endpoints: []string{"a:53", "b:53"}, MaxAttempts: 1})
	p.endpoints[0].markUnhealthy(time.Now().Add(time.Hour))

	for i := 0; i < 4; i++ {
		ep := p.next()
		if ep.target != "b:53" {
			t.Fatalf("expected only b:53 to be selected while a:53 is cooling down, got %s", ep.target)
		}
	}

	p.endpoints[0].markUnhealthy(time.Now().Add(-time.Second))
	if !p.endpoints[0].healthy(time.Now()) {
		t.Fatal("expected endpoint to be healthy again once cooldown has elapsed")
	}
}

func TestHealthyReportsAllEndpoints(t *testing.T) {
	p := NewPool(Config{Endpoints: []string{"a:53", "b:53"}})
	p.endpoints[0].markUnhealthy(time.Now().Add(time.Hour))
	h := p.Healthy()
	if h["a:53"] {
		t.Error("a:53 should be reported unhealthy")
	}
	if !h["b:53"] {
		t.Error("b:53 should be reported healthy")
	}
}
