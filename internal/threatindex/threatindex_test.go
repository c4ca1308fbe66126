package threatindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sudo-tiz/dns-proxy-go/internal/dnsname"
)

func mustName(t *testing.T, s string) dnsname.Name {
	t.Helper()
	n, err := dnsname.Normalize(s)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestContainsNoFalseNegatives(t *testing.T) {
	idx := New(DefaultConfig())
	evil := mustName(t, "evil.example")
	idx.Add(evil)
	if !idx.Contains(evil) {
		t.Fatal("expected contains(evil.example) = true after Add")
	}
	if idx.Contains(mustName(t, "benign.example")) {
		t.Fatal("unrelated name unexpectedly reported present (acceptable only as FP, but deterministic tiny set should not collide)")
	}
}

func TestReplaceAll(t *testing.T) {
	idx := New(DefaultConfig())
	names := []dnsname.Name{mustName(t, "a.example"), mustName(t, "b.example")}
	idx.ReplaceAll(names)
	for _, n := range names {
		if !idx.Contains(n) {
			t.Fatalf("contains(%s) = false after ReplaceAll", n)
		}
	}
	if idx.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", idx.Len())
	}
}

func TestRemoveRebuildsFilter(t *testing.T) {
	idx := New(DefaultConfig())
	n := mustName(t, "gone.example")
	idx.Add(n)
	idx.Remove(n)
	if idx.Contains(n) {
		t.Fatal("expected contains to be false after Remove")
	}
}

type staticProvider struct {
	names []dnsname.Name
	err   error
}

func (p staticProvider) Fetch(ctx context.Context) ([]dnsname.Name, string, time.Time, error) {
	if p.err != nil {
		return nil, "", time.Time{}, p.err
	}
	return p.names, "static", time.Now(), nil
}

func TestRefresherRetainsIndexOnFailure(t *testing.T) {
	idx := New(DefaultConfig())
	good := mustName(t, "seed.example")
	idx.Add(good)

	r := NewRefresher(idx, staticProvider{err: context.DeadlineExceeded}, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	r.tick(ctx)
	cancel()

	if !idx.Contains(good) {
		t.Fatal("failed refresh must not empty the index")
	}
}

func TestFileProviderMissingFileYieldsEmptySet(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	names, _, _, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("got %d names from a missing file, want 0", len(names))
	}
}

func TestFileProviderReadsNormalizedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.txt")
	content := "# comment\nEVIL.example.\n\nbad.example\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewFileProvider(path)
	names, sourceID, _, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sourceID != path {
		t.Errorf("sourceID = %q, want %q", sourceID, path)
	}
	if len(names) != 2 {
		t.Fatalf("got %d names, want 2", len(names))
	}
	if names[0] != dnsname.Name("evil.example") {
		t.Errorf("names[0] = %q, want evil.example (lowercased, dot stripped)", names[0])
	}
}
