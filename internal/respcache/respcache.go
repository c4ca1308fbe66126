// Package respcache implements C5: a QueryKey-keyed, TTL-bounded response
// cache with single-flight coalescing of concurrent misses, grounded on the
// TTL-clamp and cache-key patterns in semihalev/sdns's middleware/cache and
// feng2208/adblocker's server, reworked around dnsname.QueryKey and an
// explicit Pending/Miss/Hit contract instead of those teachers' direct
// lookup-then-forward shortcuts.
package respcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/sudo-tiz/dns-proxy-go/internal/dnsname"
)

// Entry is the immutable-after-insert cached response, spec.md §3's
// CacheEntry.
type Entry struct {
	Wire        []byte
	InsertedAt  time.Time
	ExpiresAt   time.Time
	UpstreamID  string
	Synthesized bool
}

// FillResult is delivered to waiters on a single-flight Pending handle.
type FillResult struct {
	Entry *Entry
	Err   error
}

// LookupResult is the tri-state outcome of Lookup: exactly one of Entry,
// Wait, or Filler is meaningful, matching spec.md §4.5's
// `CacheEntry | Miss | Pending(handle)` contract.
type LookupResult struct {
	Entry  *Entry          // non-nil on a live hit
	Wait   <-chan FillResult // non-nil when another task is already filling
	Filler bool              // true when the caller must perform the fill itself
}

type inflight struct {
	waiters []chan FillResult
}

// Cache is the shared, concurrently accessed response cache.
type Cache struct {
	mu       sync.Mutex
	capacity int
	minTTL   time.Duration
	maxTTL   time.Duration
	blockTTL time.Duration

	entries map[dnsname.QueryKey]*Entry
	lru     *list.List // front = most recently touched
	elem    map[dnsname.QueryKey]*list.Element
	filling map[dnsname.QueryKey]*inflight
}

// Config holds the cache's configured bounds (spec.md §6).
type Config struct {
	Capacity     int
	MinCacheTTL  time.Duration
	MaxCacheTTL  time.Duration
	BlockRespTTL time.Duration
}

// New builds an empty Cache.
func New(cfg Config) *Cache {
	return &Cache{
		capacity: cfg.Capacity,
		minTTL:   cfg.MinCacheTTL,
		maxTTL:   cfg.MaxCacheTTL,
		blockTTL: cfg.BlockRespTTL,
		entries:  make(map[dnsname.QueryKey]*Entry),
		lru:      list.New(),
		elem:     make(map[dnsname.QueryKey]*list.Element),
		filling:  make(map[dnsname.QueryKey]*inflight),
	}
}

// Lookup implements spec.md §4.5. A live entry (now < ExpiresAt) is a hit.
// Otherwise, if a fill is already registered for key, the caller gets a
// Wait channel; if not, the caller becomes the filler and must eventually
// call Store or Abort.
func (c *Cache) Lookup(key dnsname.QueryKey) LookupResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if time.Now().Before(e.ExpiresAt) {
			if el, ok := c.elem[key]; ok {
				c.lru.MoveToFront(el)
			}
			return LookupResult{Entry: e}
		}
		c.removeLocked(key)
	}

	if inf, ok := c.filling[key]; ok {
		ch := make(chan FillResult, 1)
		inf.waiters = append(inf.waiters, ch)
		return LookupResult{Wait: ch}
	}

	c.filling[key] = &inflight{}
	return LookupResult{Filler: true}
}

// Store inserts entry under key and wakes any waiters registered against
// that key's in-flight slot (spec.md §4.5, §5's single-flight ordering
// guarantee: the filler's Store happens-before any waiter observing the
// value).
func (c *Cache) Store(key dnsname.QueryKey, entry *Entry) {
	c.mu.Lock()
	inf := c.filling[key]
	delete(c.filling, key)

	c.insertLocked(key, entry)
	c.mu.Unlock()

	if inf != nil {
		for _, ch := range inf.waiters {
			ch <- FillResult{Entry: entry}
			close(ch)
		}
	}
}

// Abort releases the in-flight slot for key with an error, so waiters can
// retry or report a failure, per spec.md §4.5/§7 (CacheAbort).
func (c *Cache) Abort(key dnsname.QueryKey, err error) {
	c.mu.Lock()
	inf := c.filling[key]
	delete(c.filling, key)
	c.mu.Unlock()

	if inf != nil {
		for _, ch := range inf.waiters {
			ch <- FillResult{Err: err}
			close(ch)
		}
	}
}

// insertLocked applies capacity eviction (expired-first, then the least
// recently touched entry, since both Lookup hits and Store move an entry to
// the front of the recency list) before inserting.
func (c *Cache) insertLocked(key dnsname.QueryKey, entry *Entry) {
	if _, exists := c.entries[key]; !exists && c.capacity > 0 && len(c.entries) >= c.capacity {
		c.evictOneLocked()
	}
	c.entries[key] = entry
	if el, ok := c.elem[key]; ok {
		c.lru.MoveToFront(el)
		return
	}
	el := c.lru.PushFront(key)
	c.elem[key] = el
}

func (c *Cache) evictOneLocked() {
	now := time.Now()
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		key := e.Value.(dnsname.QueryKey)
		if entry, ok := c.entries[key]; ok && !now.Before(entry.ExpiresAt) {
			c.removeElemLocked(e, key)
			return
		}
	}
	if back := c.lru.Back(); back != nil {
		key := back.Value.(dnsname.QueryKey)
		c.removeElemLocked(back, key)
	}
}

func (c *Cache) removeLocked(key dnsname.QueryKey) {
	if el, ok := c.elem[key]; ok {
		c.removeElemLocked(el, key)
	}
}

func (c *Cache) removeElemLocked(el *list.Element, key dnsname.QueryKey) {
	c.lru.Remove(el)
	delete(c.elem, key)
	delete(c.entries, key)
}

// ComputeTTL clamps minTTLSeen (the smallest record TTL in a resolved
// message, as MinTTLOf computes it) to [c.minTTL, c.maxTTL].
func (c *Cache) ComputeTTL(minTTLSeen time.Duration) time.Duration {
	ttl := minTTLSeen
	if ttl < c.minTTL {
		ttl = c.minTTL
	}
	if c.maxTTL > 0 && ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	return ttl
}

// BlockTTL is the fixed short TTL for synthesized block responses (default
// 60s per spec.md §4.5).
func (c *Cache) BlockTTL() time.Duration {
	return c.blockTTL
}

// MinTTLOf scans the answer/ns/extra sections of msg and returns the
// smallest TTL seen, the way semihalev/sdns's cache middleware does.
func MinTTLOf(msg *dns.Msg) time.Duration {
	var min uint32
	first := true
	scan := func(rrs []dns.RR) {
		for _, rr := range rrs {
			ttl := rr.Header().Ttl
			if first || ttl < min {
				min = ttl
				first = false
			}
		}
	}
	scan(msg.Answer)
	scan(msg.Ns)
	scan(msg.Extra)
	if first {
		return 0
	}
	return time.Duration(min) * time.Second
}
