package features

import (
	"testing"

	"github.com/sudo-tiz/dns-proxy-go/internal/dnsname"
)

func TestEntropyEmpty(t *testing.T) {
	if got := Entropy(""); got != 0 {
		t.Fatalf("Entropy(\"\") = %v, want 0", got)
	}
}

func TestEntropyIdempotentUnderNormalization(t *testing.T) {
	raw := "Example.COM."
	n, err := dnsname.Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	// spec.md §8: features(n)[f] == features(normalize(n))[f]
	again, err := dnsname.Normalize(string(n))
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	if Of(n, cfg) != Of(again, cfg) {
		t.Fatal("feature vector not stable under re-normalization")
	}
}

func TestScenario3HeuristicBlockFeatures(t *testing.T) {
	n, err := dnsname.Normalize("paypa1-verification-login.tk")
	if err != nil {
		t.Fatal(err)
	}
	v := Of(n, DefaultConfig())
	if !v.SuspiciousPtn {
		t.Error("expected suspicious pattern to fire")
	}
	if !v.SuspiciousTLD {
		t.Error("expected suspicious TLD to fire")
	}
	if v.BrandImperson {
		t.Error("paypa1 should not match the paypal brand token")
	}
}

func TestBrandImpersonationExcludesDotCom(t *testing.T) {
	n, _ := dnsname.Normalize("paypal-secure.com")
	v := Of(n, DefaultConfig())
	if v.BrandImperson {
		t.Error(".com names are never flagged as brand impersonation")
	}
}

func TestMaxRepeatRun(t *testing.T) {
	if got := maxRepeatRun("aaabbbbc"); got != 4 {
		t.Fatalf("maxRepeatRun = %d, want 4", got)
	}
	if got := maxRepeatRun(""); got != 0 {
		t.Fatalf("maxRepeatRun(\"\") = %d, want 0", got)
	}
}
