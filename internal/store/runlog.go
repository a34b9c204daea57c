package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunLog records one row per orchestrated pipeline run.
type RunLog struct {
	pool *pgxpool.Pool
}

func NewRunLog(pool *pgxpool.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// RunRecord mirrors one ingest_runs row.
type RunRecord struct {
	RunID          uuid.UUID
	SourceID       string
	StartedAt      time.Time
	FinishedAt     *time.Time
	PagesScraped   int
	DetailsFetched int
	RawInserted    int
	TendersNew     int
	TendersUpdated int
	RowsReconciled int
	Errors         []string
}

// Start opens a run row and returns its id.
func (l *RunLog) Start(ctx context.Context, sourceID string) (uuid.UUID, error) {
	runID := uuid.New()
	_, err := l.pool.Exec(ctx,
		`INSERT INTO ingest_runs (run_id, source_id) VALUES ($1, $2)`, runID, sourceID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start run: %w", err)
	}
	return runID, nil
}

// Finish closes a run row with its final counters.
func (l *RunLog) Finish(ctx context.Context, rec RunRecord) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE ingest_runs
		SET finished_at     = NOW(),
		    pages_scraped   = $2,
		    details_fetched = $3,
		    raw_inserted    = $4,
		    tenders_new     = $5,
		    tenders_updated = $6,
		    rows_reconciled = $7,
		    errors          = $8
		WHERE run_id = $1`,
		rec.RunID, rec.PagesScraped, rec.DetailsFetched, rec.RawInserted,
		rec.TendersNew, rec.TendersUpdated, rec.RowsReconciled, rec.Errors)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", rec.RunID, err)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (l *RunLog) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.pool.Query(ctx, `
		SELECT run_id, source_id, started_at, finished_at,
		       pages_scraped, details_fetched, raw_inserted,
		       tenders_new, tenders_updated, rows_reconciled, errors
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(
			&rec.RunID, &rec.SourceID, &rec.StartedAt, &rec.FinishedAt,
			&rec.PagesScraped, &rec.DetailsFetched, &rec.RawInserted,
			&rec.TendersNew, &rec.TendersUpdated, &rec.RowsReconciled, &rec.Errors,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
