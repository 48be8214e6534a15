package trust

import "testing"

func newTestSet() *Set {
	return NewSet([]string{
		"github.com", "google.com", "microsoft.com", "youtube.com", "docs.python.org",
	})
}

func TestIsTrusted(t *testing.T) {
	s := newTestSet()

	testCases := []struct {
		host string
		want bool
	}{
		{"github.com", true},
		{"sub.github.com", true},
		{"deep.sub.github.com", true},
		{"GITHUB.COM", true},
		{"docs.python.org", true},
		{"notgithub.com", false},
		{"github.com.evil.com", false},
		{"evilgithub.com", false},
		{"github.co", false},
		{"", false},
	}

	for _, tc := range testCases {
		t.Run(tc.host, func(t *testing.T) {
			if got := s.IsTrusted(tc.host); got != tc.want {
				t.Errorf("IsTrusted(%q) = %v, want %v", tc.host, got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	s := newTestSet()

	testCases := []struct {
		name string
		host string
		want Status
	}{
		{"exact trusted", "github.com", Trusted},
		{"subdomain trusted", "gist.github.com", Trusted},
		{"unrelated host", "example.org", Unknown},
		{"brand stuffed prefix", "github.com.evil.com", Deceptive},
		{"brand stuffed inside", "accounts.google.com.security-check.help", Deceptive},
		{"brand glued to label", "secure-github.com-login.net", Deceptive},
		{"empty host", "", Unknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.Classify(tc.host); got != tc.want {
				t.Errorf("Classify(%q) = %v, want %v", tc.host, got, tc.want)
			}
		})
	}
}

// A genuine subdomain contains its parent domain as a substring; the order
// of checks must resolve it as trusted, never deceptive.
func TestSubdomainNeverDeceptive(t *testing.T) {
	s := newTestSet()
	for _, host := range []string{"api.github.com", "www.youtube.com", "mail.google.com"} {
		if got := s.Classify(host); got != Trusted {
			t.Errorf("Classify(%q) = %v, want Trusted", host, got)
		}
	}
}

func TestNewSetNormalizes(t *testing.T) {
	s := NewSet([]string{" GitHub.COM ", "", "google.com"})
	if !s.IsTrusted("x.github.com") {
		t.Error("domain should be lower-cased and trimmed at construction")
	}
	if got := len(s.Domains()); got != 2 {
		t.Errorf("empty entries should be dropped, got %d domains", got)
	}
}

func TestStatusString(t *testing.T) {
	if Trusted.String() != "trusted" || Deceptive.String() != "deceptive" || Unknown.String() != "unknown" {
		t.Error("unexpected Status string rendering")
	}
}
