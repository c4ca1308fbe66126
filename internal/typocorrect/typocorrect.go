// Package typocorrect implements C4: bounded edit-distance lookup against a
// small known-good domain list, used to suggest (never silently apply) a
// correction for likely-mistyped names.
package typocorrect

import (
	"github.com/agnivade/levenshtein"

	"github.com/sudo-tiz/dns-proxy-go/internal/dnsname"
)

// DefaultKnownGood mirrors the known-good domain list in
// original_source/src/ai/typo_correction.rs, since spec.md §4.4 specifies
// the algorithm but not the seed list.
func DefaultKnownGood() []dnsname.Name {
	raw := []string{
		"google.com", "facebook.com", "twitter.com", "instagram.com",
		"youtube.com", "amazon.com", "microsoft.com", "apple.com",
		"netflix.com", "linkedin.com",
	}
	out := make([]dnsname.Name, 0, len(raw))
	for _, s := range raw {
		out = append(out, dnsname.Name(s))
	}
	return out
}

// Corrector holds the known-good candidate list it suggests corrections
// from.
type Corrector struct {
	candidates []dnsname.Name
	// ApplyRewrite records the apply_typo_rewrite setting and defaults to
	// false. The query pipeline does not read it: a suggestion is only
	// attached to the telemetry record and never changes the resolved name,
	// whatever this field is set to.
	ApplyRewrite bool
}

// New builds a Corrector over candidates (a copy of DefaultKnownGood() if
// candidates is nil).
func New(candidates []dnsname.Name) *Corrector {
	if candidates == nil {
		candidates = DefaultKnownGood()
	}
	return &Corrector{candidates: candidates}
}

func maxLen(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Suggest returns the single best correction for n, if any. The suggestion
// must have distance <= max(1, max(len(n), len(candidate))/3) and be
// strictly closer than every other candidate; a tie among the closest
// candidates yields no suggestion, per spec.md §4.4's anti-coin-flip rule.
func (c *Corrector) Suggest(n dnsname.Name) (dnsname.Name, bool) {
	var (
		best      dnsname.Name
		bestDist  = -1
		tie       bool
	)
	for _, cand := range c.candidates {
		d := levenshtein.ComputeDistance(string(n), string(cand))
		threshold := maxLen(1, maxLen(len(n), len(cand))/3)
		if d > threshold {
			continue
		}
		switch {
		case bestDist == -1 || d < bestDist:
			best, bestDist, tie = cand, d, false
		case d == bestDist:
			tie = true
		}
	}
	if bestDist == -1 || tie {
		return "", false
	}
	if best == n {
		return "", false
	}
	return best, true
}
