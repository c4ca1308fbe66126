// Package features computes the pure, synchronous feature kit (C1) that the
// classifier (C3) scores: Shannon entropy, pattern/brand/TLD flags, and
// shape features, all derived purely from a normalized dnsname.Name.
package features

import (
	"math"
	"regexp"
	"strings"

	"github.com/sudo-tiz/dns-proxy-go/internal/dnsname"
)

// Config supplies the data the feature kit is evaluated against. The brand
// list, suspicious-TLD set, and pattern regexes are configuration, not
// constants, matching spec.md §9's "classifier as data" requirement.
type Config struct {
	Patterns []*regexp.Regexp
	Brands   []string
	TLDs     []string
}

// DefaultConfig reconstructs the pattern/brand/TLD sets observed in
// original_source/src/ai/threat_detection.rs, where spec.md §4.1 names the
// shape of each flag but not its exact data.
func DefaultConfig() Config {
	return Config{
		Patterns: compilePatterns(
			`-verification-`,
			`-update-`,
			`-login-`,
			`verify.*account`,
			`secure.*login`,
			`\d{4,}\.com$`,
		),
		Brands: []string{
			"paypal", "google", "amazon", "microsoft", "apple",
			"facebook", "netflix", "bankofamerica", "chase", "wellsfargo",
		},
		TLDs: []string{".tk", ".ml", ".cf", ".ga", ".gq", ".xyz", ".top", ".club"},
	}
}

func compilePatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile("(?i)"+e))
	}
	return out
}

// Vector is the fixed, closed set of feature values described in spec.md §3/§4.1.
type Vector struct {
	Entropy         float64
	SuspiciousPtn   bool
	BrandImperson   bool
	SuspiciousTLD   bool
	Length          int
	SubdomainCount  int
	HyphenCount     int
	DigitCount      int
	VowelRatio      float64
	MaxRepeatRun    int
}

// Entropy computes Shannon entropy over byte frequency of the full name,
// including dots. Empty string yields 0, matching spec.md §4.1.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	n := float64(len(s))
	var h float64
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// Of derives the full Vector for n under cfg. Total function, O(len(n))
// plus O(sum of pattern lengths); its allocations are input-sized
// temporaries (the label split and a lower-cased copy for the vowel ratio).
func Of(n dnsname.Name, cfg Config) Vector {
	s := string(n)

	v := Vector{
		Entropy:        Entropy(s),
		Length:         len(s),
		SubdomainCount: subdomainCount(n),
		HyphenCount:    strings.Count(s, "-"),
		DigitCount:     countDigits(s),
		VowelRatio:     vowelRatio(s),
		MaxRepeatRun:   maxRepeatRun(s),
	}

	for _, re := range cfg.Patterns {
		if re.MatchString(s) {
			v.SuspiciousPtn = true
			break
		}
	}

	v.BrandImperson = hasBrandImpersonation(s, cfg.Brands)

	for _, tld := range cfg.TLDs {
		if strings.HasSuffix(s, tld) {
			v.SuspiciousTLD = true
			break
		}
	}

	return v
}

func subdomainCount(n dnsname.Name) int {
	c := len(n.Labels()) - 2
	if c < 0 {
		return 0
	}
	return c
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func vowelRatio(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	vowels := 0
	for _, r := range strings.ToLower(s) {
		switch r {
		case 'a', 'e', 'i', 'o', 'u':
			vowels++
		}
	}
	return float64(vowels) / float64(len(s))
}

func maxRepeatRun(s string) int {
	if s == "" {
		return 0
	}
	max, cur := 1, 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] {
			cur++
		} else {
			cur = 1
		}
		if cur > max {
			max = cur
		}
	}
	return max
}

func hasBrandImpersonation(s string, brands []string) bool {
	if strings.HasSuffix(s, ".com") {
		return false
	}
	for _, b := range brands {
		if strings.Contains(s, b) {
			return true
		}
	}
	return false
}
