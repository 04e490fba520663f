package manifest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundwatch/etp-tracker/internal/model"
	"github.com/fundwatch/etp-tracker/internal/store"
)

func newTestService(t *testing.T, version int) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "manifest_test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return NewService(st, version), st
}

func testDoc(accession string) model.Document {
	return model.Document{
		FilerCIK:  "1174610",
		Accession: accession,
		Form:      "485BPOS",
	}
}

func TestSeenAfterSuccess(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 2)
	doc := testDoc("0001-26-000001")

	view := svc.Load(ctx, doc.FilerCIK)
	assert.False(t, view.Seen(doc.Accession))

	require.NoError(t, svc.RecordSuccess(ctx, doc, 4, Fingerprint([]byte("body"))))

	view = svc.Load(ctx, doc.FilerCIK)
	assert.True(t, view.Seen(doc.Accession))
	assert.False(t, view.NeedsRetry(doc.Accession))
	assert.Equal(t, Fingerprint([]byte("body")), view.Fingerprint(doc.Accession))
}

// brokenReadStore fails every manifest read while delegating everything
// else to a real store.
type brokenReadStore struct {
	store.Store
}

func (s *brokenReadStore) ManifestEntries(context.Context, string) ([]model.ManifestEntry, error) {
	return nil, assert.AnError
}

func TestLoadDegradesToEmptyViewOnReadFailure(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, 2)
	doc := testDoc("0001-26-000007")
	require.NoError(t, svc.RecordSuccess(ctx, doc, 1, ""))

	// A corrupt manifest degrades to full reprocessing of the filer, not a
	// failed run: the previously recorded accession is no longer seen.
	broken := NewService(&brokenReadStore{Store: st}, 2)
	view := broken.Load(ctx, doc.FilerCIK)
	assert.False(t, view.Seen(doc.Accession))
	assert.False(t, view.NeedsRetry(doc.Accession))
	assert.Equal(t, 0, view.RetryCount(doc.Accession))
}

func TestVersionBumpForcesReprocess(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, 2)
	doc := testDoc("0001-26-000002")
	require.NoError(t, svc.RecordSuccess(ctx, doc, 1, ""))

	// Same document, newer pipeline version: no longer seen.
	svc3 := NewService(st, 3)
	view := svc3.Load(ctx, doc.FilerCIK)
	assert.False(t, view.Seen(doc.Accession))

	// An entry recorded at a higher version still counts at a lower one.
	view = svc.Load(ctx, doc.FilerCIK)
	assert.True(t, view.Seen(doc.Accession))
}

func TestRetryBudget(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 2)
	doc := testDoc("0001-26-000003")

	for i := 1; i <= defaultMaxRetries; i++ {
		view := svc.Load(ctx, doc.FilerCIK)
		require.NoError(t, svc.RecordError(ctx, view, doc, errors.New("parse failed")))
		view = svc.Load(ctx, doc.FilerCIK)
		assert.Equal(t, i, view.RetryCount(doc.Accession))
		assert.Equal(t, i < defaultMaxRetries, view.NeedsRetry(doc.Accession))
	}

	// Exhausted documents are neither seen nor retried.
	view := svc.Load(ctx, doc.FilerCIK)
	assert.False(t, view.Seen(doc.Accession))
	assert.False(t, view.NeedsRetry(doc.Accession))
}

func TestSuccessResetsRetryCount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 2)
	doc := testDoc("0001-26-000004")

	view := svc.Load(ctx, doc.FilerCIK)
	require.NoError(t, svc.RecordError(ctx, view, doc, errors.New("transient")))
	require.NoError(t, svc.RecordSuccess(ctx, doc, 2, ""))

	view = svc.Load(ctx, doc.FilerCIK)
	assert.True(t, view.Seen(doc.Accession))
	assert.Equal(t, 0, view.RetryCount(doc.Accession))
}

func TestErrorMessageTruncated(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, 2)
	doc := testDoc("0001-26-000005")

	long := strings.Repeat("x", 2000)
	view := svc.Load(ctx, doc.FilerCIK)
	require.NoError(t, svc.RecordError(ctx, view, doc, errors.New(long)))

	entries, err := st.ManifestEntries(ctx, doc.FilerCIK)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].ErrorMessage, maxErrorMessageLen)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 2)
	doc := testDoc("0001-26-000006")
	other := model.Document{FilerCIK: "1424958", Accession: "0002-26-000001", Form: "497"}

	require.NoError(t, svc.RecordSuccess(ctx, doc, 1, ""))
	require.NoError(t, svc.RecordSuccess(ctx, other, 1, ""))

	require.NoError(t, svc.Invalidate(ctx, doc.FilerCIK))
	assert.False(t, svc.Load(ctx, doc.FilerCIK).Seen(doc.Accession))
	assert.True(t, svc.Load(ctx, other.FilerCIK).Seen(other.Accession))

	require.NoError(t, svc.InvalidateAll(ctx))
	assert.False(t, svc.Load(ctx, other.FilerCIK).Seen(other.Accession))
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint([]byte("same bytes"))
	b := Fingerprint([]byte("same bytes"))
	c := Fingerprint([]byte("other bytes"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
