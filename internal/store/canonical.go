package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vz-aggregator/internal/ingest"
)

// TenderStore maintains the canonical deduplicated tenders table.
type TenderStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewTenderStore(pool *pgxpool.Pool, logger *slog.Logger) *TenderStore {
	return &TenderStore{pool: pool, logger: logger}
}

const upsertTenderSQL = `
	INSERT INTO tenders (
		hash_id, source_id, external_id, title, buyer, cpv,
		country, region, procedure_type, budget_value, currency,
		deadline, notice_url, attachments, status, description
	)
	VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11,
		$12, $13, $14, $15, $16
	)
	ON CONFLICT (hash_id) DO UPDATE
	SET
		title          = EXCLUDED.title,
		buyer          = EXCLUDED.buyer,
		cpv            = EXCLUDED.cpv,
		country        = EXCLUDED.country,
		region         = EXCLUDED.region,
		procedure_type = EXCLUDED.procedure_type,
		budget_value   = EXCLUDED.budget_value,
		currency       = EXCLUDED.currency,
		deadline       = EXCLUDED.deadline,
		notice_url     = EXCLUDED.notice_url,
		attachments    = EXCLUDED.attachments,
		status         = EXCLUDED.status,
		description    = EXCLUDED.description,
		updated_at     = NOW()
	WHERE (
		tenders.title, tenders.buyer, tenders.cpv, tenders.country, tenders.region,
		tenders.procedure_type, tenders.budget_value, tenders.currency, tenders.deadline,
		tenders.notice_url, tenders.attachments, tenders.status, tenders.description
	) IS DISTINCT FROM (
		EXCLUDED.title, EXCLUDED.buyer, EXCLUDED.cpv, EXCLUDED.country, EXCLUDED.region,
		EXCLUDED.procedure_type, EXCLUDED.budget_value, EXCLUDED.currency, EXCLUDED.deadline,
		EXCLUDED.notice_url, EXCLUDED.attachments, EXCLUDED.status, EXCLUDED.description
	)
	RETURNING (xmax = 0) AS inserted, (xmax <> 0) AS updated`

// Upsert writes units keyed on hash_id. An identical row is a no-op (the
// upsert's WHERE guard filters it out), a changed row counts as updated, a
// fresh hash_id as new. Returns (new, updated).
func (s *TenderStore) Upsert(ctx context.Context, units []*ingest.TenderUnit) (int, int, error) {
	if len(units) == 0 {
		return 0, 0, nil
	}

	newCount, updatedCount := 0, 0
	for _, t := range units {
		attachments := t.Attachments
		if attachments == nil {
			attachments = []ingest.Attachment{}
		}
		attJSON, err := json.Marshal(attachments)
		if err != nil {
			return newCount, updatedCount, fmt.Errorf("encode attachments %s: %w", t.ExternalID, err)
		}

		var deadline *time.Time
		if t.Deadline != nil {
			d := t.Deadline.Truncate(24 * time.Hour)
			deadline = &d
		}

		var isNew, isUpdated bool
		err = s.pool.QueryRow(ctx, upsertTenderSQL,
			t.HashID, t.SourceID, t.ExternalID, t.Title, nullIfEmpty(t.Buyer), t.CPV,
			nullIfEmpty(t.Country), nullIfEmpty(t.Region), nullIfEmpty(t.ProcedureType),
			t.BudgetValue, nullIfEmpty(t.Currency),
			deadline, nullIfEmpty(t.NoticeURL), attJSON,
			nullIfEmpty(t.Status), nullIfEmpty(t.Description),
		).Scan(&isNew, &isUpdated)
		if err != nil {
			// the WHERE guard makes identical rows return nothing
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return newCount, updatedCount, fmt.Errorf("upsert tender %s: %w", t.ExternalID, err)
		}
		if isNew {
			newCount++
		} else if isUpdated {
			updatedCount++
		}
	}

	s.logger.Info("tender upsert done", "new", newCount, "updated", updatedCount)
	return newCount, updatedCount, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
