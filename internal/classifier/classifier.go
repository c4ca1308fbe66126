// Package classifier implements the weighted linear scorer (C3): it turns a
// features.Vector plus threat-index membership into a Decision.
package classifier

import (
	"github.com/sudo-tiz/dns-proxy-go/internal/features"
)

// Verdict is the classifier's outcome kind.
type Verdict int

const (
	Allow Verdict = iota
	Suspect
	Block
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Suspect:
		return "suspect"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// Decision is the classifier's output: a Verdict, an ordered list of
// human-readable reasons, and a confidence in [0, 1].
type Decision struct {
	Verdict    Verdict
	Reasons    []string
	Confidence float64
	Score      float64
}

// Weights is the classifier's weight table. It is data, not code, per
// spec.md §9 ("classifier as data") — callers load it from configuration
// and may override any field.
type Weights struct {
	SuspiciousPatterns float64
	BrandImpersonation float64
	SuspiciousTLD      float64
	EntropyOutlier     float64
	ExcessiveLength    float64
	HyphenCount        float64
	DigitCount         float64
	MaxRepeatRun       float64

	HyphenCap     float64
	DigitCap      float64
	MaxRepeatCap  float64
}

// DefaultWeights returns the exact numeric weight table contract in spec.md
// §4.3.
func DefaultWeights() Weights {
	return Weights{
		SuspiciousPatterns: 0.80,
		BrandImpersonation: 0.90,
		SuspiciousTLD:      0.60,
		EntropyOutlier:     0.40,
		ExcessiveLength:    0.20,
		HyphenCount:        0.10,
		DigitCount:         0.15,
		MaxRepeatRun:       0.25,
		HyphenCap:          8,
		DigitCap:           10,
		MaxRepeatCap:       6,
	}
}

const (
	blockThreshold   = 0.7
	suspectThreshold = 0.4
	entropyLow       = 2.5
	entropyHigh      = 4.5
	lengthThreshold  = 30
	subdomainThresh  = 3
	knownMaliciousConfidence = 0.95
)

func saturate(v, cap float64) float64 {
	if cap <= 0 {
		return 0
	}
	if v > cap {
		v = cap
	}
	return v / cap
}

// Decide implements spec.md §4.3's scoring and threshold rules. Pure and
// deterministic: the same (fv, inThreatSet, w) always yields the same
// Decision, satisfying spec.md §8's replay property.
func Decide(fv features.Vector, inThreatSet bool, w Weights) Decision {
	if inThreatSet {
		return Decision{
			Verdict:    Block,
			Reasons:    []string{"known_malicious"},
			Confidence: knownMaliciousConfidence,
		}
	}

	entropyOutlier := fv.Entropy < entropyLow || fv.Entropy > entropyHigh
	// excessive_length folds in both the raw name length and subdomain
	// depth boundary checks spec.md §4.3 names for this single weighted
	// term.
	excessiveLength := fv.Length > lengthThreshold || fv.SubdomainCount > subdomainThresh

	var s float64
	if fv.SuspiciousPtn {
		s += w.SuspiciousPatterns
	}
	if fv.BrandImperson {
		s += w.BrandImpersonation
	}
	if fv.SuspiciousTLD {
		s += w.SuspiciousTLD
	}
	if entropyOutlier {
		s += w.EntropyOutlier
	}
	if excessiveLength {
		s += w.ExcessiveLength
	}
	s += w.HyphenCount * saturate(float64(fv.HyphenCount), w.HyphenCap)
	s += w.DigitCount * saturate(float64(fv.DigitCount), w.DigitCap)
	s += w.MaxRepeatRun * saturate(float64(fv.MaxRepeatRun), w.MaxRepeatCap)

	reasons := reasonsFor(fv, entropyOutlier, excessiveLength)

	switch {
	case s > blockThreshold:
		conf := s
		if conf > 0.95 {
			conf = 0.95
		}
		return Decision{Verdict: Block, Reasons: reasons, Confidence: conf, Score: s}
	case s > suspectThreshold:
		return Decision{Verdict: Suspect, Reasons: reasons, Confidence: s, Score: s}
	default:
		return Decision{Verdict: Allow, Reasons: nil, Confidence: 0, Score: s}
	}
}

// reasonsFor derives the human-readable reason list in the fixed order
// spec.md §4.3 mandates: patterns, brand, TLD, entropy, length. Wording is
// recovered from original_source/src/ai/threat_detection.rs, since spec.md
// §8 scenario 3 pins the patterns/TLD strings verbatim but is silent on the
// rest.
func reasonsFor(fv features.Vector, entropyOutlier, excessiveLength bool) []string {
	var reasons []string
	if fv.SuspiciousPtn {
		reasons = append(reasons, "Contains suspicious patterns")
	}
	if fv.BrandImperson {
		reasons = append(reasons, "Potential brand impersonation")
	}
	if fv.SuspiciousTLD {
		reasons = append(reasons, "Uses suspicious top-level domain")
	}
	if entropyOutlier {
		reasons = append(reasons, "Unusual character distribution")
	}
	if excessiveLength {
		reasons = append(reasons, "Unusually long domain name")
	}
	return reasons
}
