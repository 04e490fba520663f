package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/fundwatch/etp-tracker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS fetch_cache (
	url        TEXT PRIMARY KEY,
	body       BLOB NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS manifest (
	filer_cik        TEXT NOT NULL,
	accession        TEXT NOT NULL,
	form             TEXT NOT NULL DEFAULT '',
	version          INTEGER NOT NULL,
	outcome          TEXT NOT NULL,
	extraction_count INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT NOT NULL DEFAULT '',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	fingerprint      TEXT NOT NULL DEFAULT '',
	processed_at     DATETIME NOT NULL,
	PRIMARY KEY (filer_cik, accession)
);

CREATE TABLE IF NOT EXISTS extractions (
	filer_cik   TEXT NOT NULL,
	accession   TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	filing_date DATETIME NOT NULL,
	record      TEXT NOT NULL,
	PRIMARY KEY (filer_cik, accession, seq)
);

CREATE TABLE IF NOT EXISTS product_status (
	filer_cik  TEXT NOT NULL,
	product_id TEXT NOT NULL,
	record     TEXT NOT NULL,
	PRIMARY KEY (filer_cik, product_id)
);

CREATE TABLE IF NOT EXISTS name_history (
	filer_cik  TEXT NOT NULL,
	product_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	record     TEXT NOT NULL,
	PRIMARY KEY (filer_cik, product_id, seq)
);

CREATE TABLE IF NOT EXISTS run_summaries (
	id         TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL,
	summary    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extractions_filer_date ON extractions(filer_cik, filing_date);
CREATE INDEX IF NOT EXISTS idx_manifest_filer ON manifest(filer_cik);
CREATE INDEX IF NOT EXISTS idx_run_summaries_started ON run_summaries(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Fetch cache ---

func (s *SQLiteStore) GetCachedFetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM fetch_cache WHERE url = ?`, url,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached fetch")
	}
	return body, nil
}

func (s *SQLiteStore) PutCachedFetch(ctx context.Context, url string, body []byte) error {
	// INSERT OR IGNORE: cache entries are immutable, first write wins.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO fetch_cache (url, body, fetched_at) VALUES (?, ?, ?)`,
		url, body, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put cached fetch")
}

// --- Manifest ---

func (s *SQLiteStore) ManifestEntries(ctx context.Context, filerCIK string) ([]model.ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT filer_cik, accession, form, version, outcome, extraction_count,
		        error_message, retry_count, fingerprint, processed_at
		 FROM manifest WHERE filer_cik = ?`,
		filerCIK,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: manifest entries for %s", filerCIK)
	}
	defer rows.Close()

	var entries []model.ManifestEntry
	for rows.Next() {
		var e model.ManifestEntry
		var outcome string
		if err := rows.Scan(&e.FilerCIK, &e.Accession, &e.Form, &e.PipelineVersion, &outcome,
			&e.ExtractionCount, &e.ErrorMessage, &e.RetryCount, &e.Fingerprint, &e.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan manifest entry")
		}
		e.Outcome = model.ManifestOutcome(outcome)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: manifest iterate")
}

func (s *SQLiteStore) RecordManifest(ctx context.Context, e model.ManifestEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manifest (filer_cik, accession, form, version, outcome, extraction_count,
		                       error_message, retry_count, fingerprint, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (filer_cik, accession) DO UPDATE SET
		   form = excluded.form,
		   version = excluded.version,
		   outcome = excluded.outcome,
		   extraction_count = excluded.extraction_count,
		   error_message = excluded.error_message,
		   retry_count = excluded.retry_count,
		   fingerprint = excluded.fingerprint,
		   processed_at = excluded.processed_at`,
		e.FilerCIK, e.Accession, e.Form, e.PipelineVersion, string(e.Outcome),
		e.ExtractionCount, e.ErrorMessage, e.RetryCount, e.Fingerprint, e.ProcessedAt,
	)
	return eris.Wrapf(err, "sqlite: record manifest %s/%s", e.FilerCIK, e.Accession)
}

func (s *SQLiteStore) InvalidateManifest(ctx context.Context, filerCIK string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM manifest WHERE filer_cik = ?`, filerCIK)
	return eris.Wrapf(err, "sqlite: invalidate manifest %s", filerCIK)
}

func (s *SQLiteStore) InvalidateAllManifests(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM manifest`)
	return eris.Wrap(err, "sqlite: invalidate all manifests")
}

// --- Extraction records ---

func (s *SQLiteStore) ReplaceExtractions(ctx context.Context, filerCIK, accession string, recs []model.ExtractionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace extractions")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM extractions WHERE filer_cik = ? AND accession = ?`,
		filerCIK, accession,
	); err != nil {
		return eris.Wrapf(err, "sqlite: supersede extractions %s/%s", filerCIK, accession)
	}

	for i, r := range recs {
		recJSON, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal extraction record")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO extractions (filer_cik, accession, seq, filing_date, record) VALUES (?, ?, ?, ?, ?)`,
			filerCIK, accession, i, r.FilingDate.UTC(), string(recJSON),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert extraction %s/%s", filerCIK, accession)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace extractions")
}

func (s *SQLiteStore) ListExtractions(ctx context.Context, filerCIK string) ([]model.ExtractionRecord, error) {
	// Ordered by filing date then accession so rollup replay is total.
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM extractions WHERE filer_cik = ?
		 ORDER BY filing_date ASC, accession ASC, seq ASC`,
		filerCIK,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list extractions for %s", filerCIK)
	}
	defer rows.Close()

	var recs []model.ExtractionRecord
	for rows.Next() {
		var recJSON string
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction")
		}
		var r model.ExtractionRecord
		if err := json.Unmarshal([]byte(recJSON), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal extraction")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: extractions iterate")
}

// --- Product status ---

func (s *SQLiteStore) ReplaceProductStatus(ctx context.Context, filerCIK string, statuses []model.ProductStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace product status")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM product_status WHERE filer_cik = ?`, filerCIK,
	); err != nil {
		return eris.Wrapf(err, "sqlite: clear product status %s", filerCIK)
	}

	for _, ps := range statuses {
		psJSON, err := json.Marshal(ps)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal product status")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_status (filer_cik, product_id, record) VALUES (?, ?, ?)`,
			filerCIK, ps.ProductID, string(psJSON),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert product status %s/%s", filerCIK, ps.ProductID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace product status")
}

func (s *SQLiteStore) ListProductStatus(ctx context.Context, filerCIK string) ([]model.ProductStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM product_status WHERE filer_cik = ? ORDER BY product_id ASC`,
		filerCIK,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list product status for %s", filerCIK)
	}
	defer rows.Close()

	var statuses []model.ProductStatus
	for rows.Next() {
		var psJSON string
		if err := rows.Scan(&psJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product status")
		}
		var ps model.ProductStatus
		if err := json.Unmarshal([]byte(psJSON), &ps); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal product status")
		}
		statuses = append(statuses, ps)
	}
	return statuses, eris.Wrap(rows.Err(), "sqlite: product status iterate")
}

// --- Name history ---

func (s *SQLiteStore) ReplaceNameHistory(ctx context.Context, filerCIK string, entries []model.NameChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace name history")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM name_history WHERE filer_cik = ?`, filerCIK,
	); err != nil {
		return eris.Wrapf(err, "sqlite: clear name history %s", filerCIK)
	}

	seqs := map[string]int{}
	for _, nc := range entries {
		ncJSON, err := json.Marshal(nc)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal name change")
		}
		seq := seqs[nc.ProductID]
		seqs[nc.ProductID] = seq + 1
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO name_history (filer_cik, product_id, seq, record) VALUES (?, ?, ?, ?)`,
			filerCIK, nc.ProductID, seq, string(ncJSON),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert name change %s/%s", filerCIK, nc.ProductID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace name history")
}

func (s *SQLiteStore) ListNameHistory(ctx context.Context, filerCIK, productID string) ([]model.NameChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM name_history WHERE filer_cik = ? AND product_id = ? ORDER BY seq ASC`,
		filerCIK, productID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list name history %s/%s", filerCIK, productID)
	}
	defer rows.Close()

	var entries []model.NameChange
	for rows.Next() {
		var ncJSON string
		if err := rows.Scan(&ncJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan name change")
		}
		var nc model.NameChange
		if err := json.Unmarshal([]byte(ncJSON), &nc); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal name change")
		}
		entries = append(entries, nc)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: name history iterate")
}

// --- Run summaries ---

func (s *SQLiteStore) AppendRunSummary(ctx context.Context, summary model.RunSummary) error {
	sumJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_summaries (id, started_at, summary) VALUES (?, ?, ?)`,
		summary.ID, summary.StartedAt.UTC(), string(sumJSON),
	)
	return eris.Wrapf(err, "sqlite: append run summary %s", summary.ID)
}

func (s *SQLiteStore) ListRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT summary FROM run_summaries ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run summaries")
	}
	defer rows.Close()

	var summaries []model.RunSummary
	for rows.Next() {
		var sumJSON string
		if err := rows.Scan(&sumJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run summary")
		}
		var rs model.RunSummary
		if err := json.Unmarshal([]byte(sumJSON), &rs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run summary")
		}
		summaries = append(summaries, rs)
	}
	return summaries, eris.Wrap(rows.Err(), "sqlite: run summaries iterate")
}
