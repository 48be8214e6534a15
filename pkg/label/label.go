// Package label runs the offline dataset labeling passes: the weighted risk
// scorer over command datasets, and the trust-policy cleanup over URL
// datasets. Both read and write CSV; labeled command rows can additionally
// be persisted to Postgres for training runs.
package label

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/triagekit/malguard/pkg/ml"
	"github.com/triagekit/malguard/pkg/sanitize"
	"github.com/triagekit/malguard/pkg/score"
	"github.com/triagekit/malguard/pkg/trust"
)

// CommandRow is one labeled training example.
type CommandRow struct {
	Command     string
	Signals     score.Signals
	Score       float64
	Label       string
	Explanation string
}

// Observer records sightings into the command-frequency store while a
// dataset is being labeled. Optional; *score.RedisHistory satisfies it.
type Observer interface {
	Observe(ctx context.Context, cmd string) error
}

// Labeler applies the weighted scorer to command datasets.
type Labeler struct {
	scorer   *score.Scorer
	observer Observer
	sink     func(CommandRow) error
}

// NewLabeler wraps a scorer.
func NewLabeler(s *score.Scorer) *Labeler {
	return &Labeler{scorer: s}
}

// SetObserver attaches a frequency-store observer. Each labeled command is
// recorded as one sighting before its signals are computed.
func (l *Labeler) SetObserver(o Observer) { l.observer = o }

// SetSink attaches a function that receives every labeled row in addition
// to the CSV output, e.g. to persist rows to Postgres. A sink error aborts
// the labeling pass.
func (l *Labeler) SetSink(fn func(CommandRow) error) { l.sink = fn }

// LabelCommand scores a single command.
func (l *Labeler) LabelCommand(ctx context.Context, cmd string) (CommandRow, error) {
	s := sanitize.Text(cmd)
	if s == "" {
		return CommandRow{}, fmt.Errorf("empty command")
	}

	if l.observer != nil {
		if err := l.observer.Observe(ctx, s); err != nil {
			return CommandRow{}, fmt.Errorf("observe command: %w", err)
		}
	}

	sig, err := l.scorer.Evaluate(ctx, s)
	if err != nil {
		return CommandRow{}, err
	}
	total := sig.Score()
	return CommandRow{
		Command:     s,
		Signals:     sig,
		Score:       total,
		Label:       score.Label(total),
		Explanation: score.Explain(sig),
	}, nil
}

// CommandHeader is the output schema for labeled command CSVs. The weight
// baked into each signal column name ties every dataset to the weight
// version it was labeled under; a weight change produces a visibly
// different header.
func CommandHeader() []string {
	return []string{
		"Command",
		"Lolbin (" + formatSignal(score.Weights[score.SignalLolbin]) + ")",
		"Content (" + formatSignal(score.Weights[score.SignalContent]) + ")",
		"Frequency (" + formatSignal(score.Weights[score.SignalFrequency]) + ")",
		"Source (" + formatSignal(score.Weights[score.SignalSource]) + ")",
		"Network (" + formatSignal(score.Weights[score.SignalNetwork]) + ")",
		"Behavioural (" + formatSignal(score.Weights[score.SignalBehavioural]) + ")",
		"History (" + formatSignal(score.Weights[score.SignalHistory]) + ")",
		"Score", "Label", "Explanation",
	}
}

func commandRecord(row CommandRow) []string {
	return []string{
		row.Command,
		formatSignal(row.Signals.Lolbin),
		formatSignal(row.Signals.Content),
		formatSignal(row.Signals.Frequency),
		formatSignal(row.Signals.Source),
		formatSignal(row.Signals.Network),
		formatSignal(row.Signals.Behavioural),
		formatSignal(row.Signals.History),
		strconv.FormatFloat(row.Score, 'f', 2, 64),
		row.Label,
		row.Explanation,
	}
}

func formatSignal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// LabelCSV reads a command dataset and writes the labeled dataset. The
// input must have a header row; commands are taken from the "Command"
// column (case-insensitive), or the first column when no such header
// exists. Unscorable rows (empty after sanitization) are skipped, not
// fatal. Returns the number of labeled rows.
func (l *Labeler) LabelCSV(ctx context.Context, in io.Reader, out io.Writer) (int, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read dataset header: %w", err)
	}
	col := findColumn(header, "command")

	writer := csv.NewWriter(out)
	if err := writer.Write(CommandHeader()); err != nil {
		return 0, fmt.Errorf("write output header: %w", err)
	}

	count := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read dataset row: %w", err)
		}
		if col >= len(record) {
			continue
		}

		row, err := l.LabelCommand(ctx, record[col])
		if err != nil {
			if ctx.Err() != nil {
				return count, ctx.Err()
			}
			continue
		}
		if err := writer.Write(commandRecord(row)); err != nil {
			return count, fmt.Errorf("write labeled row: %w", err)
		}
		if l.sink != nil {
			if err := l.sink(row); err != nil {
				return count, fmt.Errorf("sink labeled row: %w", err)
			}
		}
		count++
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return count, fmt.Errorf("flush labeled dataset: %w", err)
	}
	return count, nil
}

// CleanURLLabels rewrites a URL dataset's labels to agree with the trust
// policy: hosts under a trusted domain become Legitimate and deceptive
// look-alike hosts become Malicious, regardless of what the upstream feed
// said. Unknown hosts keep their original label. The input needs "url" and
// "label" columns (case-insensitive; columns 0 and 1 otherwise). Returns
// the number of rows whose label changed.
func CleanURLLabels(set *trust.Set, in io.Reader, out io.Writer) (int, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read dataset header: %w", err)
	}
	urlCol := findColumn(header, "url")
	labelCol := findColumn(header, "label")
	if labelCol == urlCol {
		labelCol = urlCol + 1
	}

	writer := csv.NewWriter(out)
	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("write output header: %w", err)
	}

	changed := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return changed, fmt.Errorf("read dataset row: %w", err)
		}
		if urlCol >= len(record) || labelCol >= len(record) {
			if err := writer.Write(record); err != nil {
				return changed, fmt.Errorf("write row: %w", err)
			}
			continue
		}

		want := record[labelCol]
		switch set.Classify(hostOf(record[urlCol])) {
		case trust.Trusted:
			want = ml.Benign.LegacyURL()
		case trust.Deceptive:
			want = ml.Malicious.LegacyURL()
		}
		if want != record[labelCol] {
			record[labelCol] = want
			changed++
		}
		if err := writer.Write(record); err != nil {
			return changed, fmt.Errorf("write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return changed, fmt.Errorf("flush dataset: %w", err)
	}
	return changed, nil
}

// hostOf extracts the host from a dataset URL. Training feeds mix full URLs
// with bare hosts, so a missing scheme is assumed rather than rejected.
func hostOf(raw string) string {
	s := sanitize.Text(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// findColumn locates a header column case-insensitively, defaulting to 0.
func findColumn(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return 0
}
