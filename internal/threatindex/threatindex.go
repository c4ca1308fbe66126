// Package threatindex implements C2: a concurrent exact set coupled with an
// approximate-membership (Bloom) filter, refreshed wholesale from a
// threat-feed provider and published via a single atomic handle swap so
// readers never observe a torn (exact, filter) pair.
package threatindex

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	bf "github.com/tylertreat/BoomFilters"

	"github.com/sudo-tiz/dns-proxy-go/internal/dnsname"
)

// Config tunes the Bloom filter. RefreshInterval is not read by Index or
// Refresher; NewRefresher takes its interval as an argument. Defaults match
// spec.md §4.2 exactly (also confirmed against original_source's
// `bloom::BloomFilter::with_rate(0.1, 1_000_000)`).
type Config struct {
	ExpectedCardinality uint
	TargetFPR           float64
	RefreshInterval     time.Duration
}

// DefaultConfig returns spec.md §4.2's defaults.
func DefaultConfig() Config {
	return Config{
		ExpectedCardinality: 1_000_000,
		TargetFPR:           0.1,
		RefreshInterval:     time.Hour,
	}
}

// Digest hashes a normalized name with SHA-256, the "cryptographic digest"
// spec.md §4.2 calls for so filter positions resist adversarial inputs and
// the digest can double as a cache-key guard elsewhere.
func Digest(n dnsname.Name) [32]byte {
	return sha256.Sum256([]byte(n))
}

type snapshot struct {
	exact  map[dnsname.Name]struct{}
	filter *bf.BloomFilter
}

func newSnapshot(names []dnsname.Name, cfg Config) *snapshot {
	exact := make(map[dnsname.Name]struct{}, len(names))
	filter := bf.NewBloomFilter(cfg.ExpectedCardinality, cfg.TargetFPR)
	for _, n := range names {
		exact[n] = struct{}{}
		d := Digest(n)
		filter.Add(d[:])
	}
	return &snapshot{exact: exact, filter: filter}
}

// Index is the shared, concurrently read/written threat set. Readers take a
// lock-free snapshot via an atomic pointer; writers build a brand-new
// snapshot and swap it in, so contains() is wait-free for readers under
// refresh (spec.md §4.2, §5).
type Index struct {
	cfg Config
	cur atomic.Pointer[snapshot]
	mu  sync.Mutex // serializes writers only; readers never take it
}

// New builds an empty Index ready to accept adds or a ReplaceAll.
func New(cfg Config) *Index {
	idx := &Index{cfg: cfg}
	idx.cur.Store(newSnapshot(nil, cfg))
	return idx
}

// Contains reports whether name is in the current exact set. It first
// consults the Bloom filter and returns false fast on a filter miss;
// otherwise it consults the exact set, guaranteeing no false negatives
// relative to the exact set (spec.md §4.2, §8 invariant 1).
func (idx *Index) Contains(n dnsname.Name) bool {
	snap := idx.cur.Load()
	d := Digest(n)
	if !snap.filter.Test(d[:]) {
		return false
	}
	_, ok := snap.exact[n]
	return ok
}

// Add inserts name into both the exact set and the filter. Because the
// underlying snapshot is shared, Add builds a new snapshot under the writer
// lock and publishes it — cheap relative to refresh cadence, and avoids any
// possibility of a reader observing a half-updated filter.
func (idx *Index) Add(n dnsname.Name) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	old := idx.cur.Load()
	names := make([]dnsname.Name, 0, len(old.exact)+1)
	for existing := range old.exact {
		names = append(names, existing)
	}
	names = append(names, n)
	idx.cur.Store(newSnapshot(names, idx.cfg))
}

// Remove deletes name from the exact set and rebuilds the filter from
// scratch, since the Bloom filter has no remove operation (spec.md §4.2,
// §9).
func (idx *Index) Remove(n dnsname.Name) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	old := idx.cur.Load()
	names := make([]dnsname.Name, 0, len(old.exact))
	for existing := range old.exact {
		if existing == n {
			continue
		}
		names = append(names, existing)
	}
	idx.cur.Store(newSnapshot(names, idx.cfg))
}

// ReplaceAll atomically swaps both structures for a freshly built pair over
// names.
func (idx *Index) ReplaceAll(names []dnsname.Name) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.cur.Store(newSnapshot(names, idx.cfg))
}

// Len reports the current exact-set cardinality, for metrics/diagnostics.
func (idx *Index) Len() int {
	return len(idx.cur.Load().exact)
}

// FeedProvider is the pull contract spec.md §6 defines for the threat feed:
// each call returns the full current malicious-name set, no deltas.
type FeedProvider interface {
	Fetch(ctx context.Context) (names []dnsname.Name, sourceID string, fetchedAt time.Time, err error)
}

// FileProvider is a minimal concrete FeedProvider reading one normalized
// name per line from a plain text file. The real threat-feed provider
// (spec.md §6) is an external collaborator out of scope for this repo;
// FileProvider exists so `serve` has something real to point the refresher
// at, mirroring the teacher's LoadConfig missing-file-is-empty contract
// rather than erroring when no feed file is configured.
type FileProvider struct {
	path string
}

// NewFileProvider builds a FileProvider reading names from path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Fetch reads and normalizes every non-blank, non-comment line in the file.
// An empty path or a missing file yields an empty set rather than an error,
// so the refresher replaces the index with an empty one instead of treating
// "no feed configured" as a hard failure.
func (p *FileProvider) Fetch(_ context.Context) ([]dnsname.Name, string, time.Time, error) {
	if p.path == "" {
		return nil, "none", time.Now(), nil
	}

	f, err := os.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, p.path, time.Now(), nil
		}
		return nil, p.path, time.Now(), fmt.Errorf("threatindex: open feed file: %w", err)
	}
	defer f.Close()

	var names []dnsname.Name
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		n, err := dnsname.Normalize(line)
		if err != nil {
			continue
		}
		names = append(names, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, p.path, time.Now(), fmt.Errorf("threatindex: scan feed file: %w", err)
	}
	return names, p.path, time.Now(), nil
}

// Refresher runs the background refresh task described in spec.md §4.2: it
// wakes every interval (the value given to NewRefresher), calls the provider, and calls ReplaceAll on
// success. On failure it logs and retains the prior index, so the index is
// never emptied by a failed refresh after a successful first load.
type Refresher struct {
	idx      *Index
	provider FeedProvider
	interval time.Duration
	log      *slog.Logger
}

// NewRefresher constructs a Refresher. log may be nil, in which case
// slog.Default() is used.
func NewRefresher(idx *Index, provider FeedProvider, interval time.Duration, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{idx: idx, provider: provider, interval: interval, log: log}
}

// Run blocks until ctx is cancelled, performing an initial load immediately
// and then one refresh per tick. It never returns an error: refresh failures
// are logged, not propagated, so a flaky feed never takes the pipeline down.
func (r *Refresher) Run(ctx context.Context) {
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("threat index refresher stopping")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	names, sourceID, fetchedAt, err := r.provider.Fetch(ctx)
	if err != nil {
		r.log.Warn("threat feed refresh failed, retaining prior index", "error", err)
		return
	}
	r.idx.ReplaceAll(names)
	r.log.Info("threat index refreshed", "source", sourceID, "count", len(names), "fetched_at", fetchedAt)
}
