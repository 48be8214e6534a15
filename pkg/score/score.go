// Package score implements the weighted risk scorer used to generate
// training labels for the command classifier. It is an offline tool: live
// inference goes through the rule engine and the learned model instead.
// Its heuristics deliberately overlap with, but are not identical to, the
// live rules; both encode independent judgments of the same behaviours and
// are calibrated separately.
package score

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Signal identifies one of the seven independent risk heuristics.
type Signal string

const (
	SignalLolbin      Signal = "lolbin"
	SignalContent     Signal = "content"
	SignalFrequency   Signal = "frequency"
	SignalSource      Signal = "source"
	SignalNetwork     Signal = "network"
	SignalBehavioural Signal = "behavioural"
	SignalHistory     Signal = "history"
)

// Weights maps each signal to its fixed contribution. The values sum to
// exactly 1.0; changing any of them changes historical label semantics and
// must be versioned together with the datasets labeled under them.
var Weights = map[Signal]float64{
	SignalLolbin:      0.05,
	SignalContent:     0.40,
	SignalFrequency:   0.20,
	SignalSource:      0.10,
	SignalNetwork:     0.10,
	SignalBehavioural: 0.10,
	SignalHistory:     0.05,
}

// Label thresholds on the weighted sum.
const (
	MaliciousThreshold  = 0.70
	SuspiciousThreshold = 0.30
)

// lolbins are legitimate pre-installed Windows binaries commonly abused to
// evade binary-reputation defenses.
var lolbins = []string{
	"certutil", "bitsadmin", "powershell", "at.exe", "schtasks", "mshta",
	"rundll32", "regsvr32", "wscript", "cscript", "wmic", "msbuild", "sc.exe",
}

var (
	remoteFetchRe = regexp.MustCompile(`(?i)(https?://|ftp://|\\\\)`)
	fileOpRe      = regexp.MustCompile(`(?i)\b(copy|move|rename|del)\b`)
	schedulingRe  = regexp.MustCompile(`(?i)\b(at|schtasks)\b`)
	remoteSrcRe   = regexp.MustCompile(`(?i)(https?://|\\\\)`)
	behaviouralRe = regexp.MustCompile(`(?i)\b(at|schtasks|regsvr32|rundll32|sc\.exe)\b`)
)

// HistoryProvider supplies the history signal for a command. The default
// scorer has no provider and reports 0 for every command, matching the
// placeholder used when the shipped datasets were labeled. Wire a provider
// (e.g. the Redis frequency store) only when relabeling a dataset under a
// new weight version.
type HistoryProvider interface {
	HistoryRisk(ctx context.Context, cmd string) (float64, error)
}

// Scorer computes the seven risk signals and their weighted sum.
type Scorer struct {
	history HistoryProvider
}

// New creates a scorer with the placeholder (always zero) history signal.
func New() *Scorer {
	return &Scorer{}
}

// NewWithHistory creates a scorer whose history signal is backed by the
// given provider.
func NewWithHistory(h HistoryProvider) *Scorer {
	return &Scorer{history: h}
}

// Signals holds each computed signal value for one command. Signal values
// are 0/1 except content, which is one of 0, 0.5, 1.
type Signals struct {
	Lolbin      float64
	Content     float64
	Frequency   float64
	Source      float64
	Network     float64
	Behavioural float64
	History     float64
}

// Score is the weighted sum of the signal values; always in [0, 1] because
// the weights sum to 1 and every signal is at most 1.
func (s Signals) Score() float64 {
	return s.Lolbin*Weights[SignalLolbin] +
		s.Content*Weights[SignalContent] +
		s.Frequency*Weights[SignalFrequency] +
		s.Source*Weights[SignalSource] +
		s.Network*Weights[SignalNetwork] +
		s.Behavioural*Weights[SignalBehavioural] +
		s.History*Weights[SignalHistory]
}

// Evaluate computes all seven signals for a command.
func (s *Scorer) Evaluate(ctx context.Context, cmd string) (Signals, error) {
	sig := Signals{
		Lolbin:      boolSignal(detectLolbin(cmd)),
		Content:     contentRisk(cmd),
		Frequency:   boolSignal(schedulingRe.MatchString(cmd)),
		Source:      boolSignal(remoteSrcRe.MatchString(cmd)),
		Network:     boolSignal(remoteFetchRe.MatchString(cmd)),
		Behavioural: boolSignal(behaviouralRe.MatchString(cmd)),
	}

	if s.history != nil {
		h, err := s.history.HistoryRisk(ctx, cmd)
		if err != nil {
			return Signals{}, fmt.Errorf("history signal: %w", err)
		}
		sig.History = h
	}
	return sig, nil
}

// Label maps a score onto the three risk tiers. The cut points are
// inclusive: exactly 0.70 is malicious and exactly 0.30 is suspicious.
func Label(score float64) string {
	switch {
	case score >= MaliciousThreshold:
		return "malicious"
	case score >= SuspiciousThreshold:
		return "suspicious"
	default:
		return "benign"
	}
}

// Explain renders the human-readable behaviour summary stored alongside
// each labeled training row.
func Explain(sig Signals) string {
	var parts []string
	if sig.Lolbin == 1 {
		parts = append(parts, "leverage built-in LOLbins")
	}
	switch sig.Content {
	case 1:
		parts = append(parts, "download or execute from a remote source")
	case 0.5:
		parts = append(parts, "perform file operations")
	}
	if sig.Frequency == 1 {
		parts = append(parts, "schedule or automate execution")
	}
	if sig.Network == 1 {
		parts = append(parts, "initiate network communication")
	}
	if sig.Behavioural == 1 {
		parts = append(parts, "spawn processes or escalate privileges")
	}

	desc := strings.Join(parts, "; ")
	if desc == "" {
		desc = "perform standard operations"
	}
	return fmt.Sprintf("This command could %s, potentially leading to unauthorized actions.", desc)
}

func detectLolbin(cmd string) bool {
	lower := strings.ToLower(cmd)
	for _, b := range lolbins {
		if strings.Contains(lower, b) {
			return true
		}
	}
	return false
}

// contentRisk is mutually exclusive by construction: remote-fetch syntax
// dominates file-operation syntax.
func contentRisk(cmd string) float64 {
	if remoteFetchRe.MatchString(cmd) {
		return 1.0
	}
	if fileOpRe.MatchString(cmd) {
		return 0.5
	}
	return 0.0
}

func boolSignal(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
