package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("invalid JSONL line %q: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestRecordStampsEvent(t *testing.T) {
	l, path := newTestLogger(t)

	err := l.Record(Event{
		Kind:    "command",
		Input:   "powershell -enc SQBFAFgA",
		Verdict: "Malicious",
		RuleHits: []string{
			"PowerShell Encoded Payload",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, path)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := events[0]
	if e.ID == "" {
		t.Error("ID should be stamped")
	}
	if e.Timestamp == "" {
		t.Error("Timestamp should be stamped")
	}
	if e.Kind != "command" || e.Verdict != "Malicious" {
		t.Errorf("unexpected event: %+v", e)
	}
	if len(e.RuleHits) != 1 {
		t.Errorf("rule hits = %v", e.RuleHits)
	}
}

func TestRecordAppends(t *testing.T) {
	l, path := newTestLogger(t)

	for i := 0; i < 3; i++ {
		if err := l.Record(Event{Kind: "url", Input: "https://example.org"}); err != nil {
			t.Fatal(err)
		}
	}

	events := readEvents(t, path)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].ID == events[1].ID {
		t.Error("each event should get a distinct ID")
	}
}

func TestRecordConcurrent(t *testing.T) {
	l, path := newTestLogger(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Record(Event{Kind: "command", Input: "dir"})
		}()
	}
	wg.Wait()

	// Every line must still parse; interleaved writes would corrupt the log.
	events := readEvents(t, path)
	if len(events) != 20 {
		t.Fatalf("events = %d, want 20", len(events))
	}
}
