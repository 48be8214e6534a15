package label

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS labeled_commands (
	id          BIGSERIAL PRIMARY KEY,
	command     TEXT NOT NULL,
	lolbin      DOUBLE PRECISION NOT NULL,
	content     DOUBLE PRECISION NOT NULL,
	frequency   DOUBLE PRECISION NOT NULL,
	source      DOUBLE PRECISION NOT NULL,
	network     DOUBLE PRECISION NOT NULL,
	behavioural DOUBLE PRECISION NOT NULL,
	history     DOUBLE PRECISION NOT NULL,
	score       DOUBLE PRECISION NOT NULL,
	label       TEXT NOT NULL,
	explanation TEXT NOT NULL,
	labeled_at  TIMESTAMPTZ NOT NULL
)`

// Store persists labeled command rows to Postgres so training runs can pull
// datasets without shuttling CSV files around.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres, verifies the connection and ensures the
// labeled_commands table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create labeled_commands table: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SaveRows bulk-inserts labeled rows with COPY. Every row in one call gets
// the same labeled_at stamp, which doubles as a batch identifier.
func (s *Store) SaveRows(ctx context.Context, rows []CommandRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stamp := time.Now().UTC()

	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"labeled_commands"},
		[]string{
			"command", "lolbin", "content", "frequency", "source",
			"network", "behavioural", "history", "score", "label",
			"explanation", "labeled_at",
		},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{
				r.Command,
				r.Signals.Lolbin, r.Signals.Content, r.Signals.Frequency,
				r.Signals.Source, r.Signals.Network, r.Signals.Behavioural,
				r.Signals.History,
				r.Score, r.Label, r.Explanation, stamp,
			}, nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("copy labeled rows: %w", err)
	}
	return n, nil
}

// CountByLabel returns the stored row count per label, for a quick
// class-balance check before training.
func (s *Store) CountByLabel(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT label, COUNT(*) FROM labeled_commands GROUP BY label`)
	if err != nil {
		return nil, fmt.Errorf("count by label: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var label string
		var n int64
		if err := rows.Scan(&label, &n); err != nil {
			return nil, fmt.Errorf("scan label count: %w", err)
		}
		counts[label] = n
	}
	return counts, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
