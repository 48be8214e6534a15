// Package triage sequences the classification pipeline and owns its
// precedence rules. Each request walks a straight-line decision tree with
// early exits: sanitize, validate, then either the trust policy (URLs) or
// the two rule tiers (commands), and only if nothing short-circuits does
// the learned model get consulted.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/triagekit/malguard/pkg/audit"
	"github.com/triagekit/malguard/pkg/config"
	"github.com/triagekit/malguard/pkg/ml"
	"github.com/triagekit/malguard/pkg/nlp"
	"github.com/triagekit/malguard/pkg/rules"
	"github.com/triagekit/malguard/pkg/sanitize"
	"github.com/triagekit/malguard/pkg/trust"
	"github.com/triagekit/malguard/pkg/validate"
)

// ErrEmptyInput means the input was missing or sanitized down to nothing.
var ErrEmptyInput = errors.New("empty input")

// Source identifies which stage resolved the verdict.
type Source string

const (
	SourceTrustPolicy   Source = "trust_policy"
	SourceBenignRule    Source = "benign_rule"
	SourceMaliciousRule Source = "malicious_rule"
	SourceModel         Source = "model"
)

// Predictor is the only capability the orchestrator needs from a learned
// model. *ml.Provider satisfies it; tests inject fakes.
type Predictor interface {
	Predict(ctx context.Context, kind ml.Kind, text string) (ml.Prediction, error)
}

// Result is the per-request classification outcome. It has no persistence;
// callers may log it via the audit logger.
type Result struct {
	Kind    string     `json:"kind"`
	Input   string     `json:"input"` // sanitized form actually classified
	Verdict ml.Verdict `json:"-"`
	Label   string     `json:"label"` // legacy per-path vocabulary
	Source  Source     `json:"source"`

	RuleHits   []string `json:"rule_hits,omitempty"`
	TrustState string   `json:"trust_state,omitempty"`

	RawLabel   string       `json:"model_label,omitempty"`
	Confidence float64      `json:"model_confidence,omitempty"`
	Neighbor   *ml.Neighbor `json:"nearest_technique,omitempty"`

	LatencyMs float64 `json:"latency_ms"`
}

// CommandOptions adjusts command classification for a single request.
type CommandOptions struct {
	// Unsafe skips command validation entirely. Explicit, logged opt-in;
	// later stages run exactly as if validation had passed.
	Unsafe bool
}

// Engine wires the pipeline stages together. Construct once at process
// start; safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	trustSet *trust.Set
	registry *rules.Registry
	aug      *nlp.Augmenter // nil when augmentation is disabled
	model    Predictor

	semantic *ml.SemanticIndex // optional, advisory only
	auditLog *audit.Logger     // optional
}

// New builds an engine from configuration and an injected model handle.
// Augmentation availability is decided here, once, not per call.
func New(cfg *config.Config, model Predictor) *Engine {
	e := &Engine{
		cfg:      cfg,
		trustSet: trust.NewSet(cfg.TrustedDomains),
		registry: rules.Get(),
		model:    model,
	}
	if cfg.EnableAugmenter {
		e.aug = nlp.New()
	}
	return e
}

// SetAuditLog attaches an audit logger. Audit failures are logged and do
// not fail the request.
func (e *Engine) SetAuditLog(l *audit.Logger) { e.auditLog = l }

// SetSemanticIndex attaches the optional nearest-technique index.
func (e *Engine) SetSemanticIndex(si *ml.SemanticIndex) { e.semantic = si }

// ClassifyURL classifies a URL string.
//
// Pipeline: sanitize -> validate -> trust policy -> model.
func (e *Engine) ClassifyURL(ctx context.Context, raw string) (*Result, error) {
	start := time.Now()

	s := sanitize.Text(raw)
	if s == "" {
		return nil, e.fail("url", s, start, false, ErrEmptyInput)
	}
	if err := validate.URL(e.cfg, s); err != nil {
		return nil, e.fail("url", s, start, false, err)
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, e.fail("url", s, start, false, &validate.Error{Kind: "url", Reason: err.Error()})
	}
	host := strings.ToLower(u.Hostname())

	res := &Result{Kind: "url", Input: s}
	switch status := e.trustSet.Classify(host); status {
	case trust.Trusted:
		res.Verdict = ml.Benign
		res.Source = SourceTrustPolicy
		res.TrustState = status.String()
	case trust.Deceptive:
		res.Verdict = ml.Malicious
		res.Source = SourceTrustPolicy
		res.TrustState = status.String()
	default:
		res.TrustState = status.String()
		pred, err := e.model.Predict(ctx, ml.KindURL, s)
		if err != nil {
			return nil, e.fail("url", s, start, false, err)
		}
		res.Verdict = pred.Verdict
		res.Source = SourceModel
		res.RawLabel = pred.RawLabel
		res.Confidence = pred.Confidence
	}

	res.Label = res.Verdict.LegacyURL()
	res.LatencyMs = sinceMs(start)
	e.record(res, false, nil)
	return res, nil
}

// ClassifyCommand classifies a Windows shell/command string.
//
// Pipeline: sanitize -> validate (skippable) -> benign rules -> malicious
// rules -> augment -> model. A benign rule hit resolves the input without
// the malicious tier ever running; this is a deliberate
// trust-the-allow-list-first design.
func (e *Engine) ClassifyCommand(ctx context.Context, raw string, opts CommandOptions) (*Result, error) {
	start := time.Now()

	s := sanitize.Text(raw)
	if s == "" {
		return nil, e.fail("command", s, start, opts.Unsafe, ErrEmptyInput)
	}

	if opts.Unsafe {
		log.Printf("[triage] validation bypassed (unsafe mode) for command classification")
	} else if err := validate.Command(e.cfg, s); err != nil {
		return nil, e.fail("command", s, start, opts.Unsafe, err)
	}

	res := &Result{Kind: "command", Input: s}

	if hits := e.registry.ApplyBenign(s); len(hits) > 0 {
		res.Verdict = ml.Benign
		res.Source = SourceBenignRule
		res.RuleHits = hits
		res.Label = res.Verdict.LegacyCommand()
		res.LatencyMs = sinceMs(start)
		e.record(res, opts.Unsafe, nil)
		return res, nil
	}

	if hits := e.registry.ApplyMalicious(s); len(hits) > 0 {
		res.Verdict = ml.Malicious
		res.Source = SourceMaliciousRule
		res.RuleHits = hits
		res.Label = res.Verdict.LegacyCommand()
		res.LatencyMs = sinceMs(start)
		e.record(res, opts.Unsafe, nil)
		return res, nil
	}

	text := s
	if e.aug != nil {
		text = e.aug.Augment(s)
	}

	pred, err := e.model.Predict(ctx, ml.KindCommand, text)
	if err != nil {
		return nil, e.fail("command", s, start, opts.Unsafe, err)
	}
	res.Verdict = pred.Verdict
	res.Source = SourceModel
	res.RawLabel = pred.RawLabel
	res.Confidence = pred.Confidence

	if e.semantic != nil && e.semantic.IsReady() && res.Verdict != ml.Benign {
		if n, err := e.semantic.Nearest(ctx, s); err == nil {
			res.Neighbor = n
		}
	}

	res.Label = res.Verdict.LegacyCommand()
	res.LatencyMs = sinceMs(start)
	e.record(res, opts.Unsafe, nil)
	return res, nil
}

// RuleCheck runs only the malicious rule tier over arbitrary text. It backs
// the rule-check CLI mode and never consults the model.
func (e *Engine) RuleCheck(text string) []string {
	return e.registry.ApplyMalicious(sanitize.Text(text))
}

func (e *Engine) fail(kind, input string, start time.Time, unsafe bool, err error) error {
	e.record(&Result{Kind: kind, Input: input, LatencyMs: sinceMs(start)}, unsafe, err)
	return err
}

func (e *Engine) record(res *Result, unsafe bool, cause error) {
	if e.auditLog == nil {
		return
	}
	event := audit.Event{
		Kind:       res.Kind,
		Input:      res.Input,
		Verdict:    res.Label,
		RuleHits:   res.RuleHits,
		TrustState: res.TrustState,
		ModelUsed:  res.Source == SourceModel,
		Unsafe:     unsafe,
		LatencyMs:  res.LatencyMs,
	}
	if cause != nil {
		event.Error = cause.Error()
		event.Verdict = ""
	}
	if err := e.auditLog.Record(event); err != nil {
		log.Printf("[triage] audit record failed: %v", err)
	}
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// IsValidationError reports whether err is a validation rejection rather
// than a pipeline failure.
func IsValidationError(err error) bool {
	var ve *validate.Error
	return errors.As(err, &ve)
}

// Describe renders a one-line summary for console output.
func Describe(res *Result) string {
	extra := ""
	if len(res.RuleHits) > 0 {
		extra = fmt.Sprintf(" (%s)", strings.Join(res.RuleHits, ", "))
	}
	return fmt.Sprintf("%s -> %s%s", strings.ToUpper(res.Kind), res.Label, extra)
}
