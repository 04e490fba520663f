package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/fundwatch/etp-tracker/internal/db"
	"github.com/fundwatch/etp-tracker/internal/model"
)

// PostgresStore implements Store using pgx, for deployments where the
// tracker outputs are read by shared dashboards.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS fetch_cache (
	url        TEXT PRIMARY KEY,
	body       BYTEA NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
	processed_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (filer_cik, accession)
);

CREATE TABLE IF NOT EXISTS extractions (
	filer_cik   TEXT NOT NULL,
	accession   TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	filing_date TIMESTAMPTZ NOT NULL,
	record      JSONB NOT NULL,
	PRIMARY KEY (filer_cik, accession, seq)
);

CREATE TABLE IF NOT EXISTS product_status (
	filer_cik  TEXT NOT NULL,
	product_id TEXT NOT NULL,
	record     JSONB NOT NULL,
	PRIMARY KEY (filer_cik, product_id)
);

CREATE TABLE IF NOT EXISTS name_history (
	filer_cik  TEXT NOT NULL,
	product_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	record     JSONB NOT NULL,
	PRIMARY KEY (filer_cik, product_id, seq)
);

CREATE TABLE IF NOT EXISTS run_summaries (
	id         TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	summary    JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extractions_filer_date ON extractions(filer_cik, filing_date);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Fetch cache ---

func (s *PostgresStore) GetCachedFetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM fetch_cache WHERE url = $1`, url,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached fetch")
	}
	return body, nil
}

func (s *PostgresStore) PutCachedFetch(ctx context.Context, url string, body []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fetch_cache (url, body, fetched_at) VALUES ($1, $2, $3)
		 ON CONFLICT (url) DO NOTHING`,
		url, body, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: put cached fetch")
}

// --- Manifest ---

func (s *PostgresStore) ManifestEntries(ctx context.Context, filerCIK string) ([]model.ManifestEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT filer_cik, accession, form, version, outcome, extraction_count,
		        error_message, retry_count, fingerprint, processed_at
		 FROM manifest WHERE filer_cik = $1`,
		filerCIK,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: manifest entries for %s", filerCIK)
	}
	defer rows.Close()

	var entries []model.ManifestEntry
	for rows.Next() {
		var e model.ManifestEntry
		var outcome string
		if err := rows.Scan(&e.FilerCIK, &e.Accession, &e.Form, &e.PipelineVersion, &outcome,
			&e.ExtractionCount, &e.ErrorMessage, &e.RetryCount, &e.Fingerprint, &e.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan manifest entry")
		}
		e.Outcome = model.ManifestOutcome(outcome)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: manifest iterate")
}

func (s *PostgresStore) RecordManifest(ctx context.Context, e model.ManifestEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO manifest (filer_cik, accession, form, version, outcome, extraction_count,
		                       error_message, retry_count, fingerprint, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (filer_cik, accession) DO UPDATE SET
		   form = EXCLUDED.form,
		   version = EXCLUDED.version,
		   outcome = EXCLUDED.outcome,
		   extraction_count = EXCLUDED.extraction_count,
		   error_message = EXCLUDED.error_message,
		   retry_count = EXCLUDED.retry_count,
		   fingerprint = EXCLUDED.fingerprint,
		   processed_at = EXCLUDED.processed_at`,
		e.FilerCIK, e.Accession, e.Form, e.PipelineVersion, string(e.Outcome),
		e.ExtractionCount, e.ErrorMessage, e.RetryCount, e.Fingerprint, e.ProcessedAt,
	)
	return eris.Wrapf(err, "postgres: record manifest %s/%s", e.FilerCIK, e.Accession)
}

func (s *PostgresStore) InvalidateManifest(ctx context.Context, filerCIK string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM manifest WHERE filer_cik = $1`, filerCIK)
	return eris.Wrapf(err, "postgres: invalidate manifest %s", filerCIK)
}

func (s *PostgresStore) InvalidateAllManifests(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM manifest`)
	return eris.Wrap(err, "postgres: invalidate all manifests")
}

// --- Extraction records ---

func (s *PostgresStore) ReplaceExtractions(ctx context.Context, filerCIK, accession string, recs []model.ExtractionRecord) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM extractions WHERE filer_cik = $1 AND accession = $2`,
		filerCIK, accession,
	); err != nil {
		return eris.Wrapf(err, "postgres: supersede extractions %s/%s", filerCIK, accession)
	}

	for i, r := range recs {
		recJSON, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal extraction record")
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO extractions (filer_cik, accession, seq, filing_date, record) VALUES ($1, $2, $3, $4, $5)`,
			filerCIK, accession, i, r.FilingDate.UTC(), recJSON,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert extraction %s/%s", filerCIK, accession)
		}
	}
	return nil
}

func (s *PostgresStore) ListExtractions(ctx context.Context, filerCIK string) ([]model.ExtractionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM extractions WHERE filer_cik = $1
		 ORDER BY filing_date ASC, accession ASC, seq ASC`,
		filerCIK,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list extractions for %s", filerCIK)
	}
	defer rows.Close()

	var recs []model.ExtractionRecord
	for rows.Next() {
		var recJSON []byte
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction")
		}
		var r model.ExtractionRecord
		if err := json.Unmarshal(recJSON, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal extraction")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: extractions iterate")
}

// --- Product status ---

func (s *PostgresStore) ReplaceProductStatus(ctx context.Context, filerCIK string, statuses []model.ProductStatus) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM product_status WHERE filer_cik = $1`, filerCIK); err != nil {
		return eris.Wrapf(err, "postgres: clear product status %s", filerCIK)
	}
	for _, ps := range statuses {
		psJSON, err := json.Marshal(ps)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal product status")
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO product_status (filer_cik, product_id, record) VALUES ($1, $2, $3)`,
			filerCIK, ps.ProductID, psJSON,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert product status %s/%s", filerCIK, ps.ProductID)
		}
	}
	return nil
}

func (s *PostgresStore) ListProductStatus(ctx context.Context, filerCIK string) ([]model.ProductStatus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM product_status WHERE filer_cik = $1 ORDER BY product_id ASC`,
		filerCIK,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list product status for %s", filerCIK)
	}
	defer rows.Close()

	var statuses []model.ProductStatus
	for rows.Next() {
		var psJSON []byte
		if err := rows.Scan(&psJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product status")
		}
		var ps model.ProductStatus
		if err := json.Unmarshal(psJSON, &ps); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal product status")
		}
		statuses = append(statuses, ps)
	}
	return statuses, eris.Wrap(rows.Err(), "postgres: product status iterate")
}

// --- Name history ---

func (s *PostgresStore) ReplaceNameHistory(ctx context.Context, filerCIK string, entries []model.NameChange) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM name_history WHERE filer_cik = $1`, filerCIK); err != nil {
		return eris.Wrapf(err, "postgres: clear name history %s", filerCIK)
	}
	seqs := map[string]int{}
	for _, nc := range entries {
		ncJSON, err := json.Marshal(nc)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal name change")
		}
		seq := seqs[nc.ProductID]
		seqs[nc.ProductID] = seq + 1
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO name_history (filer_cik, product_id, seq, record) VALUES ($1, $2, $3, $4)`,
			filerCIK, nc.ProductID, seq, ncJSON,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert name change %s/%s", filerCIK, nc.ProductID)
		}
	}
	return nil
}

func (s *PostgresStore) ListNameHistory(ctx context.Context, filerCIK, productID string) ([]model.NameChange, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM name_history WHERE filer_cik = $1 AND product_id = $2 ORDER BY seq ASC`,
		filerCIK, productID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list name history %s/%s", filerCIK, productID)
	}
	defer rows.Close()

	var entries []model.NameChange
	for rows.Next() {
		var ncJSON []byte
		if err := rows.Scan(&ncJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan name change")
		}
		var nc model.NameChange
		if err := json.Unmarshal(ncJSON, &nc); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal name change")
		}
		entries = append(entries, nc)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: name history iterate")
}

// --- Run summaries ---

func (s *PostgresStore) AppendRunSummary(ctx context.Context, summary model.RunSummary) error {
	sumJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_summaries (id, started_at, summary) VALUES ($1, $2, $3)`,
		summary.ID, summary.StartedAt.UTC(), sumJSON,
	)
	return eris.Wrapf(err, "postgres: append run summary %s", summary.ID)
}

func (s *PostgresStore) ListRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT summary FROM run_summaries ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run summaries")
	}
	defer rows.Close()

	var summaries []model.RunSummary
	for rows.Next() {
		var sumJSON []byte
		if err := rows.Scan(&sumJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run summary")
		}
		var rs model.RunSummary
		if err := json.Unmarshal(sumJSON, &rs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run summary")
		}
		summaries = append(summaries, rs)
	}
	return summaries, eris.Wrap(rows.Err(), "postgres: run summaries iterate")
}
