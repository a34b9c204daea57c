package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// RawRecord is one observed payload snapshot from a source. The payload is
// stored verbatim; versioning happens in the store via a content hash over
// its canonical JSON form.
type RawRecord struct {
	SourceID   string
	ExternalID string
	Payload    map[string]any
	FetchedAt  *time.Time
}

// Attachment is a downloadable document linked from a notice detail page.
// Only the link is kept; files are never fetched.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// TenderUnit is the canonical, deduplicated business record for one notice.
// HashID is computed once at construction and is the sole upsert conflict key.
type TenderUnit struct {
	SourceID   string
	ExternalID string
	Title      string
	Buyer      string
	Country    string
	HashID     string

	// Enrichable fields, empty/nil until a detail page (or reconciliation)
	// supplies them.
	Region        string
	CPV           []string
	BudgetValue   *float64
	Currency      string
	Deadline      *time.Time // date component only
	NoticeURL     string
	Attachments   []Attachment
	ProcedureType string
	Status        string
	Description   string
}

// ComputeHashID derives the dedup key from the list-visible identity fields.
// Enrichable fields are deliberately excluded, so a detail-only change never
// mints a new entity while a title/buyer/deadline edit does.
func ComputeHashID(title, buyer, rawDeadline, externalID string) string {
	s := fmt.Sprintf("%s|%s|%s|%s", title, buyer, rawDeadline, externalID)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RunStats are the integer counters a scrape run reports.
type RunStats struct {
	PagesScraped   int
	DetailsFetched int
}

// ScrapeRun is the adapter's output: raw evidence and canonical units in
// positional correspondence, plus non-fatal errors collected along the way.
type ScrapeRun struct {
	SourceID   string
	RawRecords []RawRecord
	Units      []*TenderUnit
	Errors     []string
	Stats      RunStats
}

// Fetcher retrieves a URL body as text. Implementations own request pacing
// and retry policy.
type Fetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// SourceAdapter turns one portal into ScrapeRuns. One conforming
// implementation exists per source.
type SourceAdapter interface {
	SourceID() string
	FetchTenders(ctx context.Context) (*ScrapeRun, error)
	ParseTenderList(html string) []map[string]any
	NormalizeTender(row map[string]any) *TenderUnit
	FetchTenderDetail(ctx context.Context, noticeURL string) (map[string]any, error)
}
