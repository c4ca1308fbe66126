package respcache

import (
	"testing"
	"time"

	"github.com/sudo-tiz/dns-proxy-go/internal/dnsname"
)

func testKey() dnsname.QueryKey {
	return dnsname.QueryKey{Name: "example.com", QType: 1}
}

func TestLookupMissThenHit(t *testing.T) {
	c := New(Config{Capacity: 10, MinCacheTTL: time.Second, MaxCacheTTL: time.Hour, BlockRespTTL: time.Minute})
	key := testKey()

	res := c.Lookup(key)
	if !res.Filler {
		t.Fatal("first lookup on a cold key must designate the caller as filler")
	}

	entry := &Entry{Wire: []byte("resp"), InsertedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}
	c.Store(key, entry)

	res2 := c.Lookup(key)
	if res2.Entry == nil || string(res2.Entry.Wire) != "resp" {
		t.Fatalf("expected hit after store, got %+v", res2)
	}
}

func TestSingleFlightWaiterReceivesFillerResult(t *testing.T) {
	c := New(Config{Capacity: 10, MinCacheTTL: time.Second, MaxCacheTTL: time.Hour, BlockRespTTL: time.Minute})
	key := testKey()

	first := c.Lookup(key)
	if !first.Filler {
		t.Fatal("expected first caller to be filler")
	}
	second := c.Lookup(key)
	if second.Wait == nil {
		t.Fatal("expected second caller to get a Pending handle")
	}

	entry := &Entry{Wire: []byte("answer"), ExpiresAt: time.Now().Add(time.Minute)}
	c.Store(key, entry)

	select {
	case fr := <-second.Wait:
		if fr.Err != nil || fr.Entry != entry {
			t.Fatalf("waiter got unexpected result: %+v", fr)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never received fill result")
	}
}

func TestAbortPropagatesError(t *testing.T) {
	c := New(Config{Capacity: 10, MinCacheTTL: time.Second, MaxCacheTTL: time.Hour, BlockRespTTL: time.Minute})
	key := testKey()

	c.Lookup(key)
	waiter := c.Lookup(key)

	c.Abort(key, errUpstreamDown)

	select {
	case fr := <-waiter.Wait:
		if fr.Err != errUpstreamDown {
			t.Fatalf("waiter err = %v, want errUpstreamDown", fr.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never received abort result")
	}
}

func TestExpiredEntryIsMiss(t *testing.T) {
	c := New(Config{Capacity: 10, MinCacheTTL: time.Second, MaxCacheTTL: time.Hour, BlockRespTTL: time.Minute})
	key := testKey()
	c.Lookup(key)
	c.Store(key, &Entry{Wire: []byte("x"), ExpiresAt: time.Now().Add(-time.Second)})

	res := c.Lookup(key)
	if res.Entry != nil {
		t.Fatal("an expired entry must not be returned as a hit")
	}
	if !res.Filler {
		t.Fatal("an expired entry must behave as a fresh miss")
	}
}

func TestEvictsExpiredBeforeOldest(t *testing.T) {
	c := New(Config{Capacity: 2, MinCacheTTL: time.Second, MaxCacheTTL: time.Hour, BlockRespTTL: time.Minute})
	expiredKey := dnsname.QueryKey{Name: "expired.example", QType: 1}
	liveKey := dnsname.QueryKey{Name: "live.example", QType: 1}
	newKey := dnsname.QueryKey{Name: "new.example", QType: 1}

	c.Lookup(expiredKey)
	c.Store(expiredKey, &Entry{ExpiresAt: time.Now().Add(-time.Minute)})
	c.Lookup(liveKey)
	c.Store(liveKey, &Entry{ExpiresAt: time.Now().Add(time.Hour)})

	c.Lookup(newKey)
	c.Store(newKey, &Entry{ExpiresAt: time.Now().Add(time.Hour)})

	if res := c.Lookup(liveKey); res.Entry == nil {
		t.Fatal("live entry must survive eviction when an expired one is available")
	}
	if res := c.Lookup(expiredKey); res.Entry != nil {
		t.Fatal("expired entry should have been evicted")
	}
}

func TestComputeTTLClamps(t *testing.T) {
	c := New(Config{MinCacheTTL: 10 * time.Second, MaxCacheTTL: 100 * time.Second})
	if got := c.ComputeTTL(5 * time.Second); got != 10*time.Second {
		t.Fatalf("got %v, want clamp to min", got)
	}
	if got := c.ComputeTTL(1000 * time.Second); got != 100*time.Second {
		t.Fatalf("got %v, want clamp to max", got)
	}
	if got := c.ComputeTTL(50 * time.Second); got != 50*time.Second {
		t.Fatalf("got %v, want unchanged", got)
	}
}

var errUpstreamDown = &testErr{"upstream down"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }
