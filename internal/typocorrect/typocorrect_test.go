package typocorrect

import (
	"testing"

	"github.com/sudo-tiz/dns-proxy-go/internal/dnsname"
)

func TestSuggestObviousTypo(t *testing.T) {
	c := New(nil)
	got, ok := c.Suggest(dnsname.Name("gogle.com"))
	if !ok {
		t.Fatal("expected a suggestion for gogle.com")
	}
	if got != "google.com" {
		t.Fatalf("got %q, want google.com", got)
	}
}

func TestSuggestExactMatchYieldsNone(t *testing.T) {
	c := New(nil)
	if _, ok := c.Suggest(dnsname.Name("google.com")); ok {
		t.Fatal("exact match should not suggest itself")
	}
}

func TestSuggestTooFarYieldsNone(t *testing.T) {
	c := New(nil)
	if _, ok := c.Suggest(dnsname.Name("totally-unrelated-domain-name.net")); ok {
		t.Fatal("distance beyond threshold must not suggest")
	}
}

func TestSuggestTieYieldsNone(t *testing.T) {
	c := New([]dnsname.Name{"aaa.com", "aab.com"})
	// "aac.com" is distance 1 from both candidates: a genuine tie.
	if _, ok := c.Suggest(dnsname.Name("aac.com")); ok {
		t.Fatal("a tie between equally-close candidates must not suggest")
	}
}

func TestDefaultApplyRewriteIsOff(t *testing.T) {
	c := New(nil)
	if c.ApplyRewrite {
		t.Fatal("ApplyRewrite must default to false (spec.md §4.4/§9)")
	}
}
