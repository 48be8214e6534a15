// Package rules implements the two-tier regex rule engine for command
// triage. All patterns are compiled once at first use and shared across
// requests.
//
// Design principles:
//   - COMPILE ONCE: patterns are compiled at registry init, not per request
//   - NARROW PATTERNS: each rule encodes one specific attacker technique to
//     keep false positives low; "contains a URL" style rules are deliberately
//     absent
//   - TWO TIERS: benign rules carve out known-safe uses of otherwise-flagged
//     binaries and short-circuit before the malicious tier runs
package rules

import (
	"sync"

	"github.com/dlclark/regexp2"
)

// Rule holds a compiled case-insensitive pattern with a stable name.
// Immutable once constructed.
type Rule struct {
	Name  string
	Regex *regexp2.Regexp
}

// Registry holds the benign and malicious rule sets in declaration order.
type Registry struct {
	benign    []*Rule
	malicious []*Rule
}

var (
	globalRegistry *Registry
	initOnce       sync.Once
)

// Get returns the global rule registry, building it on first use.
func Get() *Registry {
	initOnce.Do(func() {
		globalRegistry = newRegistry()
	})
	return globalRegistry
}

// The patterns use .NET-style lookaheads (SCHTASKS query-only must assert
// the absence of create/change/delete/run), which Go's RE2 engine cannot
// express; hence regexp2 rather than stdlib regexp.
func newRegistry() *Registry {
	r := &Registry{}

	// --- Benign short-circuit patterns ---

	// SCHTASKS query-only: no create/change/delete/run flags anywhere in the
	// command. Must NOT also match the malicious scheduled-task rule below.
	r.registerBenign("SCHTASKS Query",
		`\bschtasks(?:\.exe)?\b(?!.*/(?:create|change|delete|run)\b).*?/(?:query|q)\b`)

	// --- Malicious fast-path patterns ---

	r.registerMalicious("PowerShell Encoded Payload",
		`\bpowershell(?:\.exe)?\b[^\n]*?(?:-enc(?:odedcommand)?|\bFromBase64String\b)`)

	r.registerMalicious("IEX Download-Execute",
		`\b(?:iwr|invoke-webrequest|wget)\b[^\n|]*\|\s*iex\b`)

	r.registerMalicious("Certutil Download",
		`\bcertutil(?:\.exe)?\b[^\n]*?(?:-urlcache|-split|-f)[^\n]*https?://`)

	r.registerMalicious("BITSAdmin Download",
		`\bbitsadmin(?:\.exe)?\b[^\n]*\btransfer\b[^\n]*https?://`)

	r.registerMalicious("MSHTA JavaScript Eval",
		`\bmshta(?:\.exe)?\b[^\n]*javascript:`)

	r.registerMalicious("Rundll32 URL Handler",
		`\brundll32(?:\.exe)?\b[^\n]*\burl\.dll,FileProtocolHandler\b[^\n]*https?://`)

	r.registerMalicious("Curl/Wget Download Script/Binary",
		`\b(?:curl|wget)\b[^\n]*https?://[^\s"']+\.(?:ps1|exe)\b`)

	r.registerMalicious("Invoke-WebRequest/iwr OutFile",
		`\b(?:Invoke-WebRequest|iwr)\b[^\n]*\s-?OutFile\b`)

	// Matches both a dropped file inside a Temp directory and a file whose
	// name merely starts with "Temp" at a path root.
	r.registerMalicious("Temp EXE Drop",
		`(?:\\|/)(?:AppData\\Local\\Temp|Temp)[\\/]?[^\\/\n]*\.exe\b`)

	r.registerMalicious("Regsvr32 Remote Scriptlet",
		`\bregsvr32(?:\.exe)?\b[^\n]*/i:https?://[^\s]+[^\n]*\bscrobj\.dll\b`)

	r.registerMalicious("SCHTASKS Create/Change/Delete/Run",
		`\bschtasks(?:\.exe)?\b.*/(?:create|change|delete|run)\b`)

	return r
}

func (r *Registry) registerBenign(name, pattern string) {
	r.benign = append(r.benign, compile(name, pattern))
}

func (r *Registry) registerMalicious(name, pattern string) {
	r.malicious = append(r.malicious, compile(name, pattern))
}

func compile(name, pattern string) *Rule {
	return &Rule{
		Name:  name,
		Regex: regexp2.MustCompile(pattern, regexp2.IgnoreCase),
	}
}

// matchAll returns the names of every rule in set that matches text, in
// declaration order. All hits are collected, not just the first, so callers
// get the full explanation.
func matchAll(set []*Rule, text string) []string {
	if text == "" {
		return nil
	}
	var hits []string
	for _, rule := range set {
		// MatchString only errors on a match-timeout, which is not
		// configured; treat an error as no match.
		if ok, err := rule.Regex.MatchString(text); err == nil && ok {
			hits = append(hits, rule.Name)
		}
	}
	return hits
}

// ApplyBenign returns benign rule names that match; any hit short-circuits
// the input as benign before the malicious tier is evaluated.
func (r *Registry) ApplyBenign(text string) []string {
	return matchAll(r.benign, text)
}

// ApplyMalicious returns malicious rule names that match; any hit
// short-circuits the input as malicious before the model is consulted.
func (r *Registry) ApplyMalicious(text string) []string {
	return matchAll(r.malicious, text)
}

// Check reports whether any malicious rule hits.
func (r *Registry) Check(text string) bool {
	return len(r.ApplyMalicious(text)) > 0
}

// BenignCount returns the number of benign rules.
func (r *Registry) BenignCount() int { return len(r.benign) }

// MaliciousCount returns the number of malicious rules.
func (r *Registry) MaliciousCount() int { return len(r.malicious) }
