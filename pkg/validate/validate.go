// Package validate rejects structurally unsafe or malformed input before it
// reaches the rule engine or a model. Validation failures are terminal for
// the request; they are typed so callers can tell them apart from later
// pipeline failures.
package validate

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/triagekit/malguard/pkg/config"
	"github.com/triagekit/malguard/pkg/sanitize"
)

// Error reports why an input failed validation.
type Error struct {
	Kind   string // "url" or "command"
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
}

func urlError(reason string) error     { return &Error{Kind: "url", Reason: reason} }
func commandError(reason string) error { return &Error{Kind: "command", Reason: reason} }

// URL checks a sanitized URL against the configured policy: length cap,
// scheme allow-list, host presence and a shallow block on the host's
// top-level label. Returns nil when the URL is acceptable.
func URL(cfg *config.Config, raw string) error {
	s := sanitize.Text(raw)
	if s == "" {
		return urlError("empty after sanitization")
	}
	// Length caps count characters, not bytes; multibyte input must not
	// shift the boundary.
	if n := utf8.RuneCountInString(s); n > cfg.MaxURLLength {
		return urlError(fmt.Sprintf("length %d exceeds limit %d", n, cfg.MaxURLLength))
	}

	u, err := url.Parse(s)
	if err != nil {
		return urlError("unparseable: " + err.Error())
	}
	if !schemeAllowed(cfg.AllowedSchemes, u.Scheme) {
		return urlError(fmt.Sprintf("scheme %q not allowed", u.Scheme))
	}
	if u.Host == "" {
		return urlError("missing host")
	}

	host := strings.ToLower(u.Hostname())
	if i := strings.LastIndex(host, "."); i >= 0 {
		tld := host[i+1:]
		for _, blocked := range cfg.BlockedTLDs {
			if tld == strings.ToLower(blocked) {
				return urlError(fmt.Sprintf("top-level domain %q is blocked", tld))
			}
		}
	}
	return nil
}

// Command checks a sanitized command string: length cap and the forbidden
// shell-metacharacter set. Returns nil when the command is acceptable.
func Command(cfg *config.Config, raw string) error {
	s := sanitize.Text(raw)
	if s == "" {
		return commandError("empty after sanitization")
	}
	if n := utf8.RuneCountInString(s); n > cfg.MaxCmdLength {
		return commandError(fmt.Sprintf("length %d exceeds limit %d", n, cfg.MaxCmdLength))
	}
	if i := strings.IndexAny(s, cfg.ForbiddenChars); i >= 0 {
		return commandError(fmt.Sprintf("forbidden character %q", s[i]))
	}
	return nil
}

func schemeAllowed(allowed []string, scheme string) bool {
	scheme = strings.ToLower(scheme)
	for _, a := range allowed {
		if scheme == strings.ToLower(a) {
			return true
		}
	}
	return false
}
