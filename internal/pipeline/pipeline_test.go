package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundwatch/etp-tracker/internal/config"
	"github.com/fundwatch/etp-tracker/internal/discovery"
	"github.com/fundwatch/etp-tracker/internal/fetch"
	"github.com/fundwatch/etp-tracker/internal/model"
	"github.com/fundwatch/etp-tracker/internal/registry"
	"github.com/fundwatch/etp-tracker/internal/store"
)

// pipeClient serves canned bodies by URL. Safe for concurrent workers.
type pipeClient struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	panicOn string
}

func (c *pipeClient) Fetch(_ context.Context, url string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicOn != "" && url == c.panicOn {
		panic("fetch exploded")
	}
	if b, ok := c.bodies[url]; ok {
		return b, nil
	}
	return nil, assert.AnError
}

func (c *pipeClient) FetchFresh(ctx context.Context, url string) ([]byte, error) {
	return c.Fetch(ctx, url)
}

func (c *pipeClient) FetchHeader(ctx context.Context, url string) ([]byte, error) {
	return c.Fetch(ctx, url)
}

var _ fetch.Client = (*pipeClient)(nil)

const (
	testCIK   = "900001"
	orphanCIK = "900002"
	aposAcc   = "0009-26-000001"
)

const submissionsFixture = `{
  "name": "FIXTURE TRUST",
  "filings": {
    "recent": {
      "accessionNumber": ["0009-26-000002", "0009-26-000001"],
      "form": ["EFFECT", "485APOS"],
      "filingDate": ["2026-02-01", "2026-01-10"],
      "primaryDocument": ["", ""],
      "size": [800, 90000],
      "isInlineXBRL": [0, 0]
    }
  }
}`

// One filing only, and no submission text served for it, so extraction fails.
const failingSubmissionsFixture = `{
  "name": "FIXTURE TRUST",
  "filings": {
    "recent": {
      "accessionNumber": ["0009-26-000001"],
      "form": ["485APOS"],
      "filingDate": ["2026-01-10"],
      "primaryDocument": [""],
      "size": [90000],
      "isInlineXBRL": [0]
    }
  }
}`

const aposSubmission = `<SEC-HEADER>0009-26-000001.hdr.sgml : 20260110
FILER:
	COMPANY DATA:
		COMPANY CONFORMED NAME:	FIXTURE TRUST
		CENTRAL INDEX KEY:	0000900001
<SERIES>
<SERIES-ID>S000090001
<SERIES-NAME>Fixture Treasury ETF
<CLASS-CONTRACT>
<CLASS-CONTRACT-ID>C000180001
<CLASS-CONTRACT-NAME>Fixture Treasury ETF
<CLASS-CONTRACT-TICKER-SYMBOL>FIXT
</CLASS-CONTRACT>
</SERIES>
</SEC-HEADER>
The effective date is March 15, 2026.
`

func happyClient() *pipeClient {
	return &pipeClient{bodies: map[string][]byte{
		discovery.SubmissionsURL(testCIK):             []byte(submissionsFixture),
		discovery.SubmissionTextURL(testCIK, aposAcc): []byte(aposSubmission),
	}}
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filers.yaml")
	overrides := "filers:\n" +
		"  - cik: \"" + testCIK + "\"\n    name: Fixture Trust\n" +
		"  - cik: \"" + orphanCIK + "\"\n    name: Orphan Trust\n"
	require.NoError(t, os.WriteFile(path, []byte(overrides), 0o644))
	reg, err := registry.Load(path)
	require.NoError(t, err)
	return reg
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipe_test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newOrchestrator(t *testing.T, st store.Store, client fetch.Client, version int) *Orchestrator {
	t.Helper()
	cfg := config.PipelineConfig{
		Version:             version,
		WorkerPoolSize:      2,
		PerFilerTimeoutSecs: 60,
		MaxDocRetries:       3,
	}
	return New(st, client, testRegistry(t), cfg)
}

func runOpts(ciks ...string) RunOptions {
	return RunOptions{
		FilerCIKs: ciks,
		Clock:     time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestZeroConfigRunsWithDefaults(t *testing.T) {
	// A zero PipelineConfig must not stall the worker pool or expire the
	// per-filer deadline before any work happens.
	o := New(testStore(t), happyClient(), testRegistry(t), config.PipelineConfig{})

	summary, err := o.Run(context.Background(), runOpts(testCIK))
	require.NoError(t, err)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 1, summary.NewDocs)
	assert.Equal(t, 1, summary.PipelineVersion)
}

func TestRunExtractsAndRollsUp(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, testStore(t), happyClient(), 2)

	summary, err := o.Run(ctx, runOpts(testCIK))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Filers)
	assert.Equal(t, 1, summary.NewDocs) // EFFECT is recorded but not counted
	assert.Equal(t, 0, summary.SkippedDocs)
	assert.Equal(t, 0, summary.ErroredDocs)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, map[string]int{"full": 1}, summary.Strategies)
	require.Len(t, summary.PerFiler, 1)
	assert.Equal(t, 1, summary.PerFiler[0].Products)

	statuses, err := o.Status(ctx, testCIK)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	s := statuses[0]
	assert.Equal(t, "C000180001", s.ProductID)
	assert.Equal(t, "Fixture Treasury ETF", s.Name)
	assert.Equal(t, "FIXT", s.Ticker)
	assert.Equal(t, model.StatusPending, s.Status)
	require.NotNil(t, s.EffectiveDate)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), *s.EffectiveDate)
	assert.Equal(t, model.ConfidenceHighText, s.DateConfidence)

	history, err := o.History(ctx, testCIK, "C000180001")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Fixture Treasury ETF", history[0].Name)

	runs, err := o.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.ID, runs[0].ID)
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, testStore(t), happyClient(), 2)

	first, err := o.Run(ctx, runOpts(testCIK))
	require.NoError(t, err)
	assert.Equal(t, 1, first.NewDocs)

	second, err := o.Run(ctx, runOpts(testCIK))
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewDocs)
	assert.Equal(t, 2, second.SkippedDocs)
	assert.Equal(t, 0, second.ErroredDocs)

	// The rollup is recomputed each run and stays stable.
	statuses, err := o.Status(ctx, testCIK)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, model.StatusPending, statuses[0].Status)
}

func TestRunForceReprocess(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, testStore(t), happyClient(), 2)

	_, err := o.Run(ctx, runOpts(testCIK))
	require.NoError(t, err)

	opts := runOpts(testCIK)
	opts.ForceReprocess = true
	again, err := o.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, again.NewDocs)
	assert.Equal(t, 0, again.SkippedDocs)
}

func TestVersionBumpForcesReprocessing(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	client := happyClient()

	_, err := newOrchestrator(t, st, client, 2).Run(ctx, runOpts(testCIK))
	require.NoError(t, err)

	bumped, err := newOrchestrator(t, st, client, 3).Run(ctx, runOpts(testCIK))
	require.NoError(t, err)
	assert.Equal(t, 1, bumped.NewDocs)
	assert.Equal(t, 0, bumped.SkippedDocs)
}

func TestFilerFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	// No submissions index for the orphan filer: its discovery fails.
	o := newOrchestrator(t, testStore(t), happyClient(), 2)

	summary, err := o.Run(ctx, runOpts(testCIK, orphanCIK))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Filers)
	assert.Equal(t, 1, summary.NewDocs)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, registry.NormalizeCIK(orphanCIK), summary.Errors[0].FilerCIK)
	assert.Equal(t, "discovery", summary.Errors[0].Step)
}

func TestPanicIsRecoveredAndReported(t *testing.T) {
	ctx := context.Background()
	client := happyClient()
	client.panicOn = discovery.SubmissionTextURL(testCIK, aposAcc)
	o := newOrchestrator(t, testStore(t), client, 2)

	summary, err := o.Run(ctx, runOpts(testCIK))
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "panic", summary.Errors[0].Step)
	assert.Contains(t, summary.Errors[0].Message, "fetch exploded")

	// The summary is still persisted.
	runs, err := o.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestRetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	client := &pipeClient{bodies: map[string][]byte{
		discovery.SubmissionsURL(testCIK): []byte(failingSubmissionsFixture),
	}}
	o := newOrchestrator(t, testStore(t), client, 2)

	for i := 0; i < 3; i++ {
		summary, err := o.Run(ctx, runOpts(testCIK))
		require.NoError(t, err)
		assert.Equal(t, 1, summary.ErroredDocs, "run %d", i+1)
	}

	// Three failed attempts exhaust the budget; the document is parked.
	final, err := o.Run(ctx, runOpts(testCIK))
	require.NoError(t, err)
	assert.Equal(t, 0, final.ErroredDocs)
	assert.Equal(t, 1, final.SkippedDocs)
}

func TestRunRejectsUnknownFiler(t *testing.T) {
	o := newOrchestrator(t, testStore(t), happyClient(), 2)
	_, err := o.Run(context.Background(), RunOptions{FilerCIKs: []string{"424242"}})
	require.Error(t, err)

	_, err = o.Status(context.Background(), "424242")
	require.Error(t, err)
}
