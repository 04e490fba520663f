// Package manifest tracks which filings have already been processed per
// filer, so a run only touches documents it has not seen at the current
// pipeline version.
package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fundwatch/etp-tracker/internal/model"
	"github.com/fundwatch/etp-tracker/internal/store"
)

// defaultMaxRetries bounds automatic retries of errored documents. Past this
// many failures a document stays errored until the manifest is invalidated.
const defaultMaxRetries = 3

// maxErrorMessageLen caps stored error messages.
const maxErrorMessageLen = 500

// Service answers seen/retry questions from the manifest and records
// processing outcomes.
type Service struct {
	store      store.Store
	version    int
	maxRetries int
	now        func() time.Time
}

// NewService creates a manifest service at the given pipeline version.
func NewService(st store.Store, pipelineVersion int) *Service {
	return &Service{store: st, version: pipelineVersion, maxRetries: defaultMaxRetries, now: time.Now}
}

// WithMaxRetries overrides the per-document retry budget. Non-positive values
// keep the default.
func (s *Service) WithMaxRetries(n int) *Service {
	if n > 0 {
		s.maxRetries = n
	}
	return s
}

// View is a filer's manifest loaded into memory for one run.
type View struct {
	entries    map[string]model.ManifestEntry
	version    int
	maxRetries int
}

// Load reads a filer's manifest. A read failure degrades to an empty
// manifest with a warning: the filer is fully reprocessed rather than
// skipped, and successful reprocessing overwrites the bad rows.
func (s *Service) Load(ctx context.Context, filerCIK string) *View {
	entries, err := s.store.ManifestEntries(ctx, filerCIK)
	if err != nil {
		zap.L().Warn("manifest read failed, reprocessing filer from scratch",
			zap.String("filer_cik", filerCIK),
			zap.Error(err),
		)
		return &View{entries: map[string]model.ManifestEntry{}, version: s.version, maxRetries: s.maxRetries}
	}

	m := make(map[string]model.ManifestEntry, len(entries))
	for _, e := range entries {
		m[e.Accession] = e
	}
	return &View{entries: m, version: s.version, maxRetries: s.maxRetries}
}

// Seen reports whether the accession was successfully processed at the
// current pipeline version or later. Entries from older versions do not
// count: a version bump reprocesses everything.
func (v *View) Seen(accession string) bool {
	e, ok := v.entries[accession]
	return ok && e.Outcome == model.OutcomeSuccess && e.PipelineVersion >= v.version
}

// NeedsRetry reports whether the accession previously errored and is still
// within the retry budget.
func (v *View) NeedsRetry(accession string) bool {
	e, ok := v.entries[accession]
	return ok && e.Outcome == model.OutcomeError && e.RetryCount < v.maxRetries
}

// Fingerprint returns the stored content fingerprint for the accession, if
// any.
func (v *View) Fingerprint(accession string) string {
	return v.entries[accession].Fingerprint
}

// RetryCount returns how many times the accession has errored.
func (v *View) RetryCount(accession string) int {
	return v.entries[accession].RetryCount
}

// RecordSuccess marks a document processed with n extraction records and the
// fingerprint of the fetched submission bytes. Success resets the retry
// counter.
func (s *Service) RecordSuccess(ctx context.Context, doc model.Document, n int, fingerprint string) error {
	e := model.ManifestEntry{
		FilerCIK:        doc.FilerCIK,
		Accession:       doc.Accession,
		Form:            doc.Form,
		PipelineVersion: s.version,
		Outcome:         model.OutcomeSuccess,
		ExtractionCount: n,
		Fingerprint:     fingerprint,
		ProcessedAt:     s.now().UTC(),
	}
	if err := s.store.RecordManifest(ctx, e); err != nil {
		return eris.Wrapf(err, "record manifest success %s/%s", doc.FilerCIK, doc.Accession)
	}
	return nil
}

// RecordError marks a document failed and bumps its retry counter based on
// the prior entry in the view.
func (s *Service) RecordError(ctx context.Context, v *View, doc model.Document, cause error) error {
	msg := cause.Error()
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	e := model.ManifestEntry{
		FilerCIK:        doc.FilerCIK,
		Accession:       doc.Accession,
		Form:            doc.Form,
		PipelineVersion: s.version,
		Outcome:         model.OutcomeError,
		ErrorMessage:    msg,
		RetryCount:      v.RetryCount(doc.Accession) + 1,
		ProcessedAt:     s.now().UTC(),
	}
	if err := s.store.RecordManifest(ctx, e); err != nil {
		return eris.Wrapf(err, "record manifest error %s/%s", doc.FilerCIK, doc.Accession)
	}
	return nil
}

// Invalidate drops one filer's manifest, forcing full reprocessing of that
// filer on the next run.
func (s *Service) Invalidate(ctx context.Context, filerCIK string) error {
	if err := s.store.InvalidateManifest(ctx, filerCIK); err != nil {
		return eris.Wrapf(err, "invalidate manifest %s", filerCIK)
	}
	return nil
}

// InvalidateAll drops every filer's manifest.
func (s *Service) InvalidateAll(ctx context.Context) error {
	if err := s.store.InvalidateAllManifests(ctx); err != nil {
		return eris.Wrap(err, "invalidate all manifests")
	}
	return nil
}

// Fingerprint hashes fetched submission bytes for change detection across
// retries. A changed fingerprint on re-fetch means the document is
// re-extracted and the new fingerprint recorded.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
