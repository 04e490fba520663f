package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundwatch/etp-tracker/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_GetCachedFetch_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT body FROM fetch_cache`).
		WithArgs("https://unknown.example").
		WillReturnError(pgx.ErrNoRows)

	body, err := s.GetCachedFetch(context.Background(), "https://unknown.example")
	require.NoError(t, err)
	assert.Nil(t, body)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutCachedFetch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO fetch_cache`).
		WithArgs("u", []byte("body"), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.PutCachedFetch(context.Background(), "u", []byte("body")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ManifestEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{
		"filer_cik", "accession", "form", "version", "outcome", "extraction_count",
		"error_message", "retry_count", "fingerprint", "processed_at",
	}).AddRow("111", "acc-1", "485APOS", 2, "success", 3, "", 0, "fp", now)

	mock.ExpectQuery(`SELECT filer_cik, accession, form, version, outcome`).
		WithArgs("111").
		WillReturnRows(rows)

	entries, err := s.ManifestEntries(context.Background(), "111")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, 2, entries[0].PipelineVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordManifest(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO manifest`).
		WithArgs("111", "acc-1", "497", 2, "error", 0, "parse failed", 1, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordManifest(context.Background(), model.ManifestEntry{
		FilerCIK: "111", Accession: "acc-1", Form: "497",
		PipelineVersion: 2, Outcome: model.OutcomeError,
		ErrorMessage: "parse failed", RetryCount: 1,
		ProcessedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InvalidateAll(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM manifest`).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	require.NoError(t, s.InvalidateAllManifests(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendRunSummary(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO run_summaries`).
		WithArgs("run-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.AppendRunSummary(context.Background(), model.RunSummary{
		ID: "run-1", StartedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
