package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Reconciler backfills canonical rows from the latest detail-bearing raw
// payload of each notice. Only NULL (or empty-collection) columns are filled;
// existing values are never overwritten.
type Reconciler struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewReconciler(pool *pgxpool.Pool, logger *slog.Logger) *Reconciler {
	return &Reconciler{pool: pool, logger: logger}
}

const reconcileSQL = `
	WITH latest_raw AS (
	  SELECT DISTINCT ON (r.external_id)
	         r.external_id,
	         (r.payload->'detail'->>'budget_value')::numeric AS budget_value,
	         NULLIF(r.payload->'detail'->>'currency','')     AS currency,
	         NULLIF(r.payload->'detail'->>'region','')       AS region,
	         NULLIF(r.payload->'detail'->>'status','')       AS status,
	         NULLIF(r.payload->'detail'->>'description','')  AS description,
	         -- '[*]' collects the codes themselves; without it lax mode yields
	         -- the whole array as a single element.
	         COALESCE(jsonb_path_query_array(r.payload, '$.detail.cpv[*]'), '[]'::jsonb) AS cpv_json,
	         COALESCE(r.payload->'detail'->'attachments', '[]'::jsonb)                AS attachments_json
	  FROM raw_data r
	  WHERE r.source_id = $1
	    AND (r.payload->'detail') IS NOT NULL
	  ORDER BY r.external_id, r.last_seen DESC
	)
	UPDATE tenders t
	SET
	  budget_value = COALESCE(t.budget_value, lr.budget_value),
	  currency     = COALESCE(t.currency, lr.currency, 'CZK'),
	  region       = COALESCE(t.region, lr.region),
	  status       = COALESCE(t.status, lr.status),
	  description  = COALESCE(t.description, lr.description),
	  cpv          = CASE WHEN t.cpv IS NULL OR array_length(t.cpv,1)=0
	                      THEN ARRAY(SELECT jsonb_array_elements_text(lr.cpv_json))
	                      ELSE t.cpv END,
	  attachments  = CASE WHEN (t.attachments IS NULL OR t.attachments = '[]'::jsonb)
	                      THEN lr.attachments_json
	                      ELSE t.attachments END,
	  updated_at   = NOW()
	FROM latest_raw lr
	WHERE t.source_id = $1
	  AND t.external_id = lr.external_id
	  AND (
	       (t.budget_value IS NULL AND lr.budget_value IS NOT NULL)
	    OR (t.currency     IS NULL AND lr.currency     IS NOT NULL)
	    OR (t.region       IS NULL AND lr.region       IS NOT NULL)
	    OR (t.status       IS NULL AND lr.status       IS NOT NULL)
	    OR (t.description  IS NULL AND lr.description  IS NOT NULL)
	    OR ( (t.cpv IS NULL OR array_length(t.cpv,1)=0) AND jsonb_array_length(lr.cpv_json) > 0 )
	    OR ( (t.attachments IS NULL OR t.attachments = '[]'::jsonb) AND lr.attachments_json <> '[]'::jsonb )
	  )`

// Sync runs the null-only backfill for one source and returns the number of
// rows it touched.
func (r *Reconciler) Sync(ctx context.Context, sourceID string) (int, error) {
	tag, err := r.pool.Exec(ctx, reconcileSQL, sourceID)
	if err != nil {
		return 0, fmt.Errorf("reconcile %s: %w", sourceID, err)
	}
	updated := int(tag.RowsAffected())
	r.logger.Info("post-ingest sync done", "source_id", sourceID, "rows", updated)
	return updated, nil
}
