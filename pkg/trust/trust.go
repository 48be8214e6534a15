// Package trust resolves a URL host against the allow-list of trusted
// registrable domains. Naive substring matching for trust is itself an
// evasion vector, so the same substring evidence that would have fooled an
// allow-list is flipped into a deception signal instead.
package trust

import "strings"

// Status is the outcome of host trust resolution.
type Status int

const (
	// Unknown means the host matched no policy; the learned model decides.
	Unknown Status = iota
	// Trusted means the host equals a trusted domain or is a strict
	// subdomain of one.
	Trusted
	// Deceptive means a trusted domain appears inside the host without the
	// host being a genuine subdomain (brand stuffing in a look-alike host).
	Deceptive
)

func (s Status) String() string {
	switch s {
	case Trusted:
		return "trusted"
	case Deceptive:
		return "deceptive"
	default:
		return "unknown"
	}
}

// Set is a fixed collection of trusted registrable domains, lower-cased at
// construction. Built once at startup and read-only thereafter.
type Set struct {
	domains []string
}

// NewSet builds a trust set from registrable domains such as "github.com".
func NewSet(domains []string) *Set {
	s := &Set{domains: make([]string, 0, len(domains))}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			s.domains = append(s.domains, d)
		}
	}
	return s
}

// IsTrusted reports whether host equals a trusted domain or ends with
// "." + a trusted domain.
func (s *Set) IsTrusted(host string) bool {
	h := strings.ToLower(host)
	for _, d := range s.domains {
		if h == d || strings.HasSuffix(h, "."+d) {
			return true
		}
	}
	return false
}

// Classify resolves a sanitized host. The trusted check runs first: a
// legitimate subdomain also contains its parent domain as a substring, so
// testing for deception before trust would flag every real subdomain.
func (s *Set) Classify(host string) Status {
	h := strings.ToLower(host)
	if h == "" {
		return Unknown
	}
	if s.IsTrusted(h) {
		return Trusted
	}
	for _, d := range s.domains {
		if strings.Contains(h, d) {
			return Deceptive
		}
	}
	return Unknown
}

// Domains returns the configured trusted domains.
func (s *Set) Domains() []string {
	out := make([]string, len(s.domains))
	copy(out, s.domains)
	return out
}
