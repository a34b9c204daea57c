package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"vz-aggregator/internal/ingest"
)

// RawStore archives observed payloads with content-addressed versioning.
type RawStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRawStore(pool *pgxpool.Pool, logger *slog.Logger) *RawStore {
	return &RawStore{pool: pool, logger: logger}
}

// canonicalJSON renders a payload deterministically: map keys sorted, compact
// separators, no HTML escaping. Equal payloads always hash equal.
func canonicalJSON(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// PayloadHash is the content address of a payload.
func PayloadHash(payload map[string]any) (string, error) {
	data, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// DetectKind classifies a payload as detail-bearing or list-only.
func DetectKind(payload map[string]any) string {
	if _, ok := payload["detail"]; ok {
		return "detail"
	}
	return "list"
}

const insertRawSQL = `
	INSERT INTO raw_data (
		source_id, external_id, payload, payload_kind, payload_hash,
		fetched_at, first_seen, last_seen
	)
	VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()), now(), now())
	ON CONFLICT (source_id, external_id, payload_hash)
	DO UPDATE SET last_seen = now()
	RETURNING (xmax = 0) AS inserted`

// Persist writes a batch of raw records. A payload already on file for the
// same notice only gets its last_seen bumped; a changed payload becomes a new
// version row. Returns the count of newly inserted rows, touches excluded.
func (s *RawStore) Persist(ctx context.Context, records []ingest.RawRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	inserted := 0
	for _, r := range records {
		data, err := canonicalJSON(r.Payload)
		if err != nil {
			return inserted, fmt.Errorf("encode raw payload %s: %w", r.ExternalID, err)
		}
		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])

		var isNew bool
		err = s.pool.QueryRow(ctx, insertRawSQL,
			r.SourceID, r.ExternalID, data, DetectKind(r.Payload), hash, r.FetchedAt,
		).Scan(&isNew)
		if err != nil {
			return inserted, fmt.Errorf("insert raw %s: %w", r.ExternalID, err)
		}
		if isNew {
			inserted++
		}
	}

	s.logger.Info("raw upsert done",
		"inserted", inserted, "touched", len(records)-inserted)
	return inserted, nil
}
