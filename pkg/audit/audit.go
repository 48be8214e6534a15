// Package audit appends one JSON line per classification decision to an
// audit log. The log is the durable record of what the engine decided and
// why; console logging stays human-oriented and unstructured.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event records one classification decision.
type Event struct {
	ID         string   `json:"id"`
	Timestamp  string   `json:"timestamp"`
	Kind       string   `json:"kind"` // "url" or "command"
	Input      string   `json:"input"`
	Verdict    string   `json:"verdict,omitempty"`
	RuleHits   []string `json:"rule_hits,omitempty"`
	TrustState string   `json:"trust_state,omitempty"`
	ModelUsed  bool     `json:"model_used"`
	Unsafe     bool     `json:"unsafe_mode,omitempty"`
	Error      string   `json:"error,omitempty"`
	LatencyMs  float64  `json:"latency_ms"`
}

// Logger is an append-only JSONL writer, safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// New opens (or creates) the audit log at path.
func New(path string) (*Logger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &Logger{file: file}, nil
}

// Record stamps the event with an ID and timestamp if unset and appends it.
func (l *Logger) Record(event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
