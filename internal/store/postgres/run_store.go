package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paritytech/stps-go/internal/domain"
)

// RunStore persists one row per load-test run summary; this system only
// ever archives one record shape.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Insert writes one run summary row, failing if run_id already exists:
// a run is archived exactly once, at completion.
func (s *RunStore) Insert(ctx context.Context, summary domain.RunSummary) error {
	const query = `
		INSERT INTO run_summaries
			(run_id, chain, senders, started_at, ended_at, total_tx_count,
			 max_tps, average_tps, stopped_early, stop_reason, blocks_sampled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		summary.RunID, summary.Chain, summary.Senders, summary.StartedAt, summary.EndedAt,
		summary.TotalTxCount, summary.MaxTPS, summary.AverageTPS, summary.StoppedEarly,
		nullableString(summary.StopReason), summary.BlocksSampled,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert run summary %s: %w", summary.RunID, err)
	}
	return nil
}

// ListRecent returns the most recent run summaries, newest first, for
// historical comparison across runs.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT run_id, chain, senders, started_at, ended_at, total_tx_count,
		       max_tps, average_tps, stopped_early, COALESCE(stop_reason, ''), blocks_sampled
		FROM run_summaries
		ORDER BY recorded_at DESC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list run summaries: %w", err)
	}
	defer rows.Close()

	var out []domain.RunSummary
	for rows.Next() {
		var r domain.RunSummary
		if err := rows.Scan(
			&r.RunID, &r.Chain, &r.Senders, &r.StartedAt, &r.EndedAt, &r.TotalTxCount,
			&r.MaxTPS, &r.AverageTPS, &r.StoppedEarly, &r.StopReason, &r.BlocksSampled,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan run summary: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
