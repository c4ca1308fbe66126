// Package dnsname normalizes DNS names and query types into the canonical
// forms used across the proxy's query pipeline.
package dnsname

import (
	"errors"
	"strings"

	"github.com/miekg/dns"
)

// Name is a normalized, lower-cased, trailing-dot-stripped DNS name.
type Name string

var (
	// ErrEmptyName is returned by Normalize for the empty string or a bare root dot.
	ErrEmptyName = errors.New("dnsname: empty name")
	// ErrNameTooLong is returned when the name exceeds the wire-format limit.
	ErrNameTooLong = errors.New("dnsname: name exceeds 253 octets")
	// ErrEmptyLabel is returned when a non-terminal label is empty ("..").
	ErrEmptyLabel = errors.New("dnsname: empty label")
)

const maxNameLength = 253

// Normalize lower-cases raw, strips at most one trailing dot, and validates
// length and label structure. It rejects the empty name outright: callers on
// the query path treat that as a FORMERR, not a lookup candidate.
func Normalize(raw string) (Name, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return "", ErrEmptyName
	}
	s = strings.ToLower(s)
	if len(s) > maxNameLength {
		return "", ErrNameTooLong
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" {
			return "", ErrEmptyLabel
		}
	}
	return Name(s), nil
}

// FQDN renders n in wire-friendly dotted form, suitable for dns.Msg.SetQuestion.
func (n Name) FQDN() string {
	return dns.Fqdn(string(n))
}

// String implements fmt.Stringer.
func (n Name) String() string {
	return string(n)
}

// Labels returns n split on ".".
func (n Name) Labels() []string {
	return strings.Split(string(n), ".")
}

// QTypeFromString maps a record type mnemonic ("A", "AAAA", ...) to its
// numeric value, delegating to miekg/dns the way the teacher's
// resolver.stringToQType does.
func QTypeFromString(s string) (uint16, bool) {
	t, ok := dns.StringToType[strings.ToUpper(s)]
	return t, ok
}

// QTypeToString is the inverse of QTypeFromString.
func QTypeToString(t uint16) string {
	if s, ok := dns.TypeToString[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// QueryKey is the canonical, comparable cache/single-flight/in-flight key:
// a normalized name paired with its query type. This resolves the
// RrKey-vs-string-key split observed between original_source's
// dns/cache.rs and dns/mod.rs in favor of one explicit struct type.
type QueryKey struct {
	Name  Name
	QType uint16
}
