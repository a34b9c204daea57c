package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"vz-aggregator/internal/ingest"
	"vz-aggregator/internal/store"
)

// RawPersister archives raw payloads.
type RawPersister interface {
	Persist(ctx context.Context, records []ingest.RawRecord) (int, error)
}

// TenderUpserter writes canonical units.
type TenderUpserter interface {
	Upsert(ctx context.Context, units []*ingest.TenderUnit) (int, int, error)
}

// Syncer backfills canonical rows from raw evidence.
type Syncer interface {
	Sync(ctx context.Context, sourceID string) (int, error)
}

// RunLogger records run lifecycle rows. Nil-able: the runner works without
// one.
type RunLogger interface {
	Start(ctx context.Context, sourceID string) (uuid.UUID, error)
	Finish(ctx context.Context, rec store.RunRecord) error
}

// RunSummary is what one source's pipeline run produced.
type RunSummary struct {
	SourceID       string
	PagesScraped   int
	DetailsFetched int
	RawInserted    int
	TendersNew     int
	TendersUpdated int
	RowsReconciled int
	Errors         []string
}

// Runner drives the pipeline for each adapter: scrape, archive raw, upsert
// canonical, reconcile. Stage order is fixed so raw evidence always lands
// before the canonical write that depends on it.
type Runner struct {
	Raw     RawPersister
	Tenders TenderUpserter
	Sync    Syncer
	RunLog  RunLogger
	Logger  *slog.Logger
}

// RunSource executes the full pipeline for a single adapter.
func (r *Runner) RunSource(ctx context.Context, adapter ingest.SourceAdapter) (*RunSummary, error) {
	sourceID := adapter.SourceID()
	summary := &RunSummary{SourceID: sourceID}

	var runID uuid.UUID
	if r.RunLog != nil {
		id, err := r.RunLog.Start(ctx, sourceID)
		if err != nil {
			// run bookkeeping must not block ingestion
			r.Logger.Warn("run log start failed", "source_id", sourceID, "error", err)
		} else {
			runID = id
		}
	}

	run, err := adapter.FetchTenders(ctx)
	if err != nil {
		return summary, fmt.Errorf("fetch %s: %w", sourceID, err)
	}
	summary.PagesScraped = run.Stats.PagesScraped
	summary.DetailsFetched = run.Stats.DetailsFetched
	summary.Errors = run.Errors

	rawInserted, err := r.Raw.Persist(ctx, run.RawRecords)
	if err != nil {
		return summary, fmt.Errorf("persist raw %s: %w", sourceID, err)
	}
	summary.RawInserted = rawInserted

	newCount, updatedCount, err := r.Tenders.Upsert(ctx, run.Units)
	if err != nil {
		return summary, fmt.Errorf("upsert tenders %s: %w", sourceID, err)
	}
	summary.TendersNew = newCount
	summary.TendersUpdated = updatedCount

	reconciled, err := r.Sync.Sync(ctx, sourceID)
	if err != nil {
		return summary, fmt.Errorf("sync %s: %w", sourceID, err)
	}
	summary.RowsReconciled = reconciled

	if r.RunLog != nil && runID != uuid.Nil {
		rec := store.RunRecord{
			RunID:          runID,
			SourceID:       sourceID,
			PagesScraped:   summary.PagesScraped,
			DetailsFetched: summary.DetailsFetched,
			RawInserted:    summary.RawInserted,
			TendersNew:     summary.TendersNew,
			TendersUpdated: summary.TendersUpdated,
			RowsReconciled: summary.RowsReconciled,
			Errors:         summary.Errors,
		}
		if err := r.RunLog.Finish(ctx, rec); err != nil {
			r.Logger.Warn("run log finish failed", "source_id", sourceID, "error", err)
		}
	}

	r.Logger.Info("run complete",
		"source_id", sourceID,
		"pages", summary.PagesScraped,
		"details", summary.DetailsFetched,
		"raw_inserted", summary.RawInserted,
		"tenders_new", summary.TendersNew,
		"tenders_updated", summary.TendersUpdated,
		"reconciled", summary.RowsReconciled,
		"errors", len(summary.Errors))
	return summary, nil
}

// RunAll executes every adapter in order, collecting summaries. One source's
// failure does not stop the others.
func (r *Runner) RunAll(ctx context.Context, adapters []ingest.SourceAdapter) []*RunSummary {
	var summaries []*RunSummary
	for _, adapter := range adapters {
		summary, err := r.RunSource(ctx, adapter)
		if err != nil {
			r.Logger.Error("source run failed", "source_id", adapter.SourceID(), "error", err)
			summary.Errors = append(summary.Errors, err.Error())
		}
		summaries = append(summaries, summary)
	}
	return summaries
}
