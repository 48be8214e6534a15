// Package ml wraps the pre-trained text classifiers behind a small
// predict(text) -> verdict contract. Models are ONNX artifacts produced by
// the offline training pipeline and run locally through Hugot; no network
// calls happen at inference time.
//
// Build:
//   - Standard: go build (pure Go backend, slower but no dependencies)
//   - With ORT: set the ONNX Runtime library path for faster inference
package ml

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// Kind selects which model artifact handles a prediction.
type Kind string

const (
	KindURL     Kind = "url"
	KindCommand Kind = "command"
)

// ErrModelUnavailable means the artifact is missing or failed to load.
// Models are provisioned out-of-band; no fallback label is fabricated.
var ErrModelUnavailable = errors.New("model artifact unavailable")

// Config holds the artifact locations for the provider.
type Config struct {
	// URLModelPath and CmdModelPath are local ONNX model directories
	// (each containing model.onnx plus tokenizer files).
	URLModelPath string
	CmdModelPath string

	// OnnxLibraryPath points at libonnxruntime; empty selects the pure Go
	// backend.
	OnnxLibraryPath string
}

// Prediction is a single classification result.
type Prediction struct {
	Verdict    Verdict
	RawLabel   string  // label exactly as the artifact produced it
	Confidence float64 // model confidence (0.0-1.0)
	LatencyMs  float64
}

// Provider owns the Hugot session and the two lazily-built classification
// pipelines. It is an explicit, injectable handle: construct one at process
// start and pass it to the orchestrator. Each pipeline is initialized at
// most once even under concurrent first access, and is read-only
// afterwards.
type Provider struct {
	cfg Config

	sessionOnce sync.Once
	session     *hugot.Session
	sessionErr  error

	urlOnce sync.Once
	urlPipe *pipelines.TextClassificationPipeline
	urlErr  error

	cmdOnce sync.Once
	cmdPipe *pipelines.TextClassificationPipeline
	cmdErr  error
}

// NewProvider creates an unloaded provider. No artifact I/O happens until
// the first Predict call for each kind.
func NewProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

// Predict classifies a single text with the model for the given kind.
func (p *Provider) Predict(ctx context.Context, kind Kind, text string) (Prediction, error) {
	pipe, err := p.pipeline(kind)
	if err != nil {
		return Prediction{}, err
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	start := time.Now()
	result, err := pipe.RunPipeline([]string{text})
	if err != nil {
		return Prediction{}, fmt.Errorf("%s model prediction: %w", kind, err)
	}
	latency := float64(time.Since(start).Microseconds()) / 1000.0

	if len(result.ClassificationOutputs) == 0 || len(result.ClassificationOutputs[0]) == 0 {
		return Prediction{}, fmt.Errorf("%s model returned no output", kind)
	}
	out := result.ClassificationOutputs[0][0]

	verdict, ok := ParseLabel(out.Label)
	if !ok {
		return Prediction{}, fmt.Errorf("%s model produced unknown label %q", kind, out.Label)
	}
	return Prediction{
		Verdict:    verdict,
		RawLabel:   out.Label,
		Confidence: float64(out.Score),
		LatencyMs:  latency,
	}, nil
}

// pipeline returns the lazily-initialized pipeline for a kind. A failed
// load is cached: the process will not retry a missing artifact on every
// request.
func (p *Provider) pipeline(kind Kind) (*pipelines.TextClassificationPipeline, error) {
	switch kind {
	case KindURL:
		p.urlOnce.Do(func() {
			p.urlPipe, p.urlErr = p.buildPipeline("url-classifier", p.cfg.URLModelPath)
		})
		return p.urlPipe, p.urlErr
	case KindCommand:
		p.cmdOnce.Do(func() {
			p.cmdPipe, p.cmdErr = p.buildPipeline("cmd-classifier", p.cfg.CmdModelPath)
		})
		return p.cmdPipe, p.cmdErr
	default:
		return nil, fmt.Errorf("unknown model kind %q", kind)
	}
}

func (p *Provider) buildPipeline(name, modelPath string) (*pipelines.TextClassificationPipeline, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: no model path configured for %s", ErrModelUnavailable, name)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: %s not found at %s", ErrModelUnavailable, name, modelPath)
	}

	session, err := p.getSession()
	if err != nil {
		return nil, err
	}

	pipe, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      name,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s from %s: %v", ErrModelUnavailable, name, modelPath, err)
	}
	log.Printf("[ml] %s loaded from %s", name, modelPath)
	return pipe, nil
}

// getSession creates the shared Hugot session on first use. ONNX Runtime is
// preferred when a library path is configured; otherwise the pure Go
// backend is used.
func (p *Provider) getSession() (*hugot.Session, error) {
	p.sessionOnce.Do(func() {
		if p.cfg.OnnxLibraryPath != "" {
			session, err := hugot.NewORTSession(
				options.WithOnnxLibraryPath(p.cfg.OnnxLibraryPath),
			)
			if err == nil {
				log.Printf("[ml] using ONNX Runtime backend (%s)", p.cfg.OnnxLibraryPath)
				p.session = session
				return
			}
			log.Printf("[ml] ONNX Runtime unavailable, falling back to Go backend: %v", err)
		}
		p.session, p.sessionErr = hugot.NewGoSession()
		if p.sessionErr != nil {
			p.sessionErr = fmt.Errorf("%w: create session: %v", ErrModelUnavailable, p.sessionErr)
		}
	})
	return p.session, p.sessionErr
}

// Close releases the Hugot session and all pipelines built from it.
func (p *Provider) Close() error {
	if p.session != nil {
		if err := p.session.Destroy(); err != nil {
			return fmt.Errorf("destroy session: %w", err)
		}
	}
	return nil
}
