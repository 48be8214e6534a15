package ml

import "strings"

// Verdict is the unified risk tier. The URL and command models were trained
// with slightly different label vocabularies ("Legitimate" vs "benign",
// "Malicious" vs "malicious"); every label entering the system is parsed
// into a Verdict once, and the legacy spellings exist only as presentation
// mappings at the output boundary.
type Verdict int

const (
	Benign Verdict = iota
	Suspicious
	Malicious
)

func (v Verdict) String() string {
	switch v {
	case Malicious:
		return "malicious"
	case Suspicious:
		return "suspicious"
	default:
		return "benign"
	}
}

// LegacyURL renders the verdict in the URL path's historical vocabulary.
func (v Verdict) LegacyURL() string {
	switch v {
	case Malicious:
		return "Malicious"
	case Suspicious:
		return "Suspicious"
	default:
		return "Legitimate"
	}
}

// LegacyCommand renders the verdict in the command path's historical
// vocabulary, which mixed cases across its code paths.
func (v Verdict) LegacyCommand() string {
	switch v {
	case Malicious:
		return "Malicious"
	case Suspicious:
		return "suspicious"
	default:
		return "benign"
	}
}

// ParseLabel normalizes a model output label into a Verdict. Different
// artifacts use different conventions:
//   - MalGuard URL model: "Legitimate" / "Suspicious" / "Malicious"
//   - MalGuard command model: "benign" / "suspicious" / "malicious"
//   - generic binary classifiers: "LABEL_0" (safe) / "LABEL_1" (threat)
//   - common third-party conventions: "SAFE", "INJECTION", "jailbreak"
func ParseLabel(label string) (Verdict, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "benign", "legitimate", "safe", "label_0":
		return Benign, true
	case "suspicious", "warn":
		return Suspicious, true
	case "malicious", "injection", "jailbreak", "unsafe", "label_1":
		return Malicious, true
	default:
		return Benign, false
	}
}
