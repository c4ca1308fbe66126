package classifier

import (
	"testing"

	"github.com/sudo-tiz/dns-proxy-go/internal/dnsname"
	"github.com/sudo-tiz/dns-proxy-go/internal/features"
)

func TestKnownMaliciousAlwaysBlocks(t *testing.T) {
	n, _ := dnsname.Normalize("evil.example")
	fv := features.Of(n, features.DefaultConfig())
	d := Decide(fv, true, DefaultWeights())
	if d.Verdict != Block {
		t.Fatalf("verdict = %v, want Block", d.Verdict)
	}
	if len(d.Reasons) != 1 || d.Reasons[0] != "known_malicious" {
		t.Fatalf("reasons = %v", d.Reasons)
	}
	if d.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want 0.95", d.Confidence)
	}
}

func TestScenario3HeuristicBlock(t *testing.T) {
	n, _ := dnsname.Normalize("paypa1-verification-login.tk")
	fv := features.Of(n, features.DefaultConfig())
	d := Decide(fv, false, DefaultWeights())
	if d.Verdict != Block {
		t.Fatalf("verdict = %v, want Block (score %v)", d.Verdict, d.Score)
	}
	has := func(want string) bool {
		for _, r := range d.Reasons {
			if r == want {
				return true
			}
		}
		return false
	}
	if !has("Contains suspicious patterns") {
		t.Error("missing pattern reason")
	}
	if !has("Uses suspicious top-level domain") {
		t.Error("missing TLD reason")
	}
}

func TestAllowPath(t *testing.T) {
	n, _ := dnsname.Normalize("example.com")
	fv := features.Of(n, features.DefaultConfig())
	d := Decide(fv, false, DefaultWeights())
	if d.Verdict != Allow {
		t.Fatalf("verdict = %v, want Allow (score %v)", d.Verdict, d.Score)
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	n, _ := dnsname.Normalize("some-random-domain123.xyz")
	fv := features.Of(n, features.DefaultConfig())
	w := DefaultWeights()
	a := Decide(fv, false, w)
	b := Decide(fv, false, w)
	if a.Verdict != b.Verdict || a.Confidence != b.Confidence || a.Score != b.Score {
		t.Fatalf("Decide is not deterministic: %+v vs %+v", a, b)
	}
	if len(a.Reasons) != len(b.Reasons) {
		t.Fatalf("reason lists differ: %v vs %v", a.Reasons, b.Reasons)
	}
	for i := range a.Reasons {
		if a.Reasons[i] != b.Reasons[i] {
			t.Fatalf("reason lists differ: %v vs %v", a.Reasons, b.Reasons)
		}
	}
}

func TestSaturatingNormalizer(t *testing.T) {
	if got := saturate(20, 8); got != 1.0 {
		t.Fatalf("saturate(20,8) = %v, want 1.0", got)
	}
	if got := saturate(4, 8); got != 0.5 {
		t.Fatalf("saturate(4,8) = %v, want 0.5", got)
	}
}
