package store

import (
	"context"

	"github.com/fundwatch/etp-tracker/internal/model"
)

// Store defines the persistence contract for the tracker. The pipeline
// needs only keyed reads/writes and prefix scans; the engine behind it is
// interchangeable (SQLite by default, Postgres for shared deployments).
type Store interface {
	// Fetch cache. Entries are immutable once written and never expire:
	// EDGAR archives are append-only, filings are not edited after filing.
	GetCachedFetch(ctx context.Context, url string) ([]byte, error)
	PutCachedFetch(ctx context.Context, url string, body []byte) error

	// Manifest: per-filer incremental processing state.
	ManifestEntries(ctx context.Context, filerCIK string) ([]model.ManifestEntry, error)
	RecordManifest(ctx context.Context, e model.ManifestEntry) error
	InvalidateManifest(ctx context.Context, filerCIK string) error
	InvalidateAllManifests(ctx context.Context) error

	// Extraction records, superseded per document on re-extraction.
	ReplaceExtractions(ctx context.Context, filerCIK, accession string, recs []model.ExtractionRecord) error
	ListExtractions(ctx context.Context, filerCIK string) ([]model.ExtractionRecord, error)

	// Rollup outputs, fully rewritten per filer on each run.
	ReplaceProductStatus(ctx context.Context, filerCIK string, statuses []model.ProductStatus) error
	ListProductStatus(ctx context.Context, filerCIK string) ([]model.ProductStatus, error)
	ReplaceNameHistory(ctx context.Context, filerCIK string, entries []model.NameChange) error
	ListNameHistory(ctx context.Context, filerCIK, productID string) ([]model.NameChange, error)

	// Run summaries: rolling append-only log.
	AppendRunSummary(ctx context.Context, s model.RunSummary) error
	ListRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
