// Package pipeline orchestrates one tracker run: discovery, extraction, and
// rollup per filer, fanned out over a bounded worker pool, reported in a
// RunSummary.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fundwatch/etp-tracker/internal/config"
	"github.com/fundwatch/etp-tracker/internal/discovery"
	"github.com/fundwatch/etp-tracker/internal/extract"
	"github.com/fundwatch/etp-tracker/internal/fetch"
	"github.com/fundwatch/etp-tracker/internal/manifest"
	"github.com/fundwatch/etp-tracker/internal/model"
	"github.com/fundwatch/etp-tracker/internal/registry"
	"github.com/fundwatch/etp-tracker/internal/rollup"
	"github.com/fundwatch/etp-tracker/internal/store"
)

// Orchestrator wires the pipeline stages over one store and fetch client.
type Orchestrator struct {
	store     store.Store
	registry  *registry.Registry
	manifests *manifest.Service
	discovery *discovery.Service
	extractor *extract.Extractor
	cfg       config.PipelineConfig
}

// New creates an orchestrator.
func New(st store.Store, client fetch.Client, reg *registry.Registry, cfg config.PipelineConfig) *Orchestrator {
	cfg = withDefaults(cfg)
	return &Orchestrator{
		store:     st,
		registry:  reg,
		manifests: manifest.NewService(st, cfg.Version).WithMaxRetries(cfg.MaxDocRetries),
		discovery: discovery.NewService(client),
		extractor: extract.New(client, cfg.Version),
		cfg:       cfg,
	}
}

// withDefaults fills non-positive settings so a zero config still runs: a
// zero worker limit would block errgroup forever and a zero timeout expires
// every filer context immediately.
func withDefaults(cfg config.PipelineConfig) config.PipelineConfig {
	if cfg.Version <= 0 {
		cfg.Version = 1
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	if cfg.PerFilerTimeoutSecs <= 0 {
		cfg.PerFilerTimeoutSecs = 600
	}
	return cfg
}

// RunOptions selects what one run covers.
type RunOptions struct {
	// FilerCIKs restricts the run to a subset of the registry. Empty means
	// every tracked filer.
	FilerCIKs []string

	// ForceReprocess invalidates the covered filers' manifests first, so
	// every document is re-extracted.
	ForceReprocess bool

	// Clock overrides the rollup replay clock. Zero means time.Now.
	Clock time.Time
}

// Run executes one tracker run. Filer failures are isolated: they land in
// the summary's error list, never abort the other filers, and never fail
// the run. Only a failure to persist the summary itself is fatal.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*model.RunSummary, error) {
	filers, err := o.resolveFilers(opts.FilerCIKs)
	if err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock.IsZero() {
		clock = time.Now().UTC()
	}

	if opts.ForceReprocess {
		if err := o.invalidate(ctx, opts.FilerCIKs); err != nil {
			return nil, err
		}
	}

	summary := &model.RunSummary{
		ID:              uuid.NewString(),
		StartedAt:       time.Now().UTC(),
		Filers:          len(filers),
		Strategies:      map[string]int{},
		PipelineVersion: o.cfg.Version,
	}

	log := zap.L().With(zap.String("run_id", summary.ID))
	log.Info("run starting",
		zap.Int("filers", len(filers)),
		zap.Int("pipeline_version", o.cfg.Version),
		zap.Bool("force_reprocess", opts.ForceReprocess),
	)

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.WorkerPoolSize)

	for _, filer := range filers {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gCtx, o.cfg.PerFilerTimeout())
			defer cancel()

			result, ferrs := o.runFiler(fctx, filer, clock)

			mu.Lock()
			defer mu.Unlock()
			summary.PerFiler = append(summary.PerFiler, result)
			summary.NewDocs += result.New
			summary.SkippedDocs += result.Skipped
			summary.ErroredDocs += result.Errored
			for s, n := range result.Strategies {
				summary.AddStrategy(s, n)
			}
			summary.Errors = append(summary.Errors, ferrs...)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures are in the summary

	summary.FinishedAt = time.Now().UTC()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)

	if err := o.store.AppendRunSummary(ctx, *summary); err != nil {
		return nil, eris.Wrap(err, "persist run summary")
	}

	log.Info("run finished",
		zap.Int("new_docs", summary.NewDocs),
		zap.Int("skipped_docs", summary.SkippedDocs),
		zap.Int("errored_docs", summary.ErroredDocs),
		zap.Int("filer_errors", len(summary.Errors)),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// runFiler runs discovery, extraction, and rollup for one filer. A panic in
// any stage is recovered here at the worker boundary and reported as a
// filer error.
func (o *Orchestrator) runFiler(ctx context.Context, filer model.Filer, clock time.Time) (result model.FilerResult, ferrs []model.FilerError) {
	result = model.FilerResult{FilerCIK: filer.CIK, Strategies: map[string]int{}}
	log := zap.L().With(zap.String("filer_cik", filer.CIK), zap.String("filer", filer.Name))

	defer func() {
		if r := recover(); r != nil {
			log.Error("filer worker panicked", zap.Any("panic", r))
			ferrs = append(ferrs, model.FilerError{
				FilerCIK: filer.CIK,
				Step:     "panic",
				Message:  fmt.Sprint(r),
			})
		}
	}()

	view := o.manifests.Load(ctx, filer.CIK)

	docs, _, err := o.discovery.Discover(ctx, filer)
	if err != nil {
		log.Warn("discovery failed", zap.Error(err))
		return result, append(ferrs, filerError(filer, "discovery", err))
	}

	pending := discovery.Pending(docs, view)
	result.Skipped = len(docs) - len(pending)

	for _, doc := range pending {
		select {
		case <-ctx.Done():
			return result, append(ferrs, filerError(filer, "extraction", ctx.Err()))
		default:
		}

		// Previously errored documents re-enter only while inside the
		// retry budget.
		if view.RetryCount(doc.Accession) > 0 && !view.NeedsRetry(doc.Accession) {
			result.Skipped++
			continue
		}

		// Order notices carry no fund content; mark them processed so they
		// never come back.
		if doc.Form == "EFFECT" {
			if err := o.manifests.RecordSuccess(ctx, doc, 0, ""); err != nil {
				ferrs = append(ferrs, filerError(filer, "manifest", err))
			}
			continue
		}

		res, err := o.extractor.Extract(ctx, filer, doc)
		if err != nil {
			log.Warn("extraction failed",
				zap.String("accession", doc.Accession),
				zap.String("form", doc.Form),
				zap.Error(err),
			)
			result.Errored++
			if rerr := o.manifests.RecordError(ctx, view, doc, err); rerr != nil {
				ferrs = append(ferrs, filerError(filer, "manifest", rerr))
			}
			continue
		}

		if err := o.store.ReplaceExtractions(ctx, filer.CIK, doc.Accession, res.Records); err != nil {
			result.Errored++
			ferrs = append(ferrs, filerError(filer, "store", err))
			continue
		}
		if err := o.manifests.RecordSuccess(ctx, doc, len(res.Records), res.Fingerprint); err != nil {
			ferrs = append(ferrs, filerError(filer, "manifest", err))
			continue
		}

		result.New++
		result.Strategies[string(res.Strategy)]++
	}

	// Rollup: full deterministic replay of everything extracted so far.
	recs, err := o.store.ListExtractions(ctx, filer.CIK)
	if err != nil {
		return result, append(ferrs, filerError(filer, "rollup", err))
	}
	rolled, err := rollup.Replay(filer, recs, rollup.Options{Clock: clock})
	if err != nil {
		return result, append(ferrs, filerError(filer, "rollup", err))
	}
	if err := o.store.ReplaceProductStatus(ctx, filer.CIK, rolled.Statuses); err != nil {
		return result, append(ferrs, filerError(filer, "rollup", err))
	}
	if err := o.store.ReplaceNameHistory(ctx, filer.CIK, rolled.History); err != nil {
		return result, append(ferrs, filerError(filer, "rollup", err))
	}
	result.Products = len(rolled.Statuses)

	log.Info("filer done",
		zap.Int("new", result.New),
		zap.Int("skipped", result.Skipped),
		zap.Int("errored", result.Errored),
		zap.Int("products", result.Products),
	)
	return result, ferrs
}

// Status returns the current product rollup for a filer.
func (o *Orchestrator) Status(ctx context.Context, filerCIK string) ([]model.ProductStatus, error) {
	cik := registry.NormalizeCIK(filerCIK)
	if _, ok := o.registry.Get(cik); !ok {
		return nil, eris.Errorf("filer %s is not tracked", filerCIK)
	}
	return o.store.ListProductStatus(ctx, cik)
}

// History returns a product's rename history, oldest first.
func (o *Orchestrator) History(ctx context.Context, filerCIK, productID string) ([]model.NameChange, error) {
	return o.store.ListNameHistory(ctx, registry.NormalizeCIK(filerCIK), productID)
}

// ListRuns returns the most recent run summaries, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	return o.store.ListRunSummaries(ctx, limit)
}

func (o *Orchestrator) resolveFilers(ciks []string) ([]model.Filer, error) {
	if len(ciks) == 0 {
		return o.registry.All(), nil
	}
	out := make([]model.Filer, 0, len(ciks))
	for _, cik := range ciks {
		f, ok := o.registry.Get(cik)
		if !ok {
			return nil, eris.Errorf("filer %s is not tracked", cik)
		}
		out = append(out, f)
	}
	return out, nil
}

func (o *Orchestrator) invalidate(ctx context.Context, ciks []string) error {
	if len(ciks) == 0 {
		return o.manifests.InvalidateAll(ctx)
	}
	for _, cik := range ciks {
		if err := o.manifests.Invalidate(ctx, registry.NormalizeCIK(cik)); err != nil {
			return err
		}
	}
	return nil
}

func filerError(filer model.Filer, step string, err error) model.FilerError {
	return model.FilerError{FilerCIK: filer.CIK, Step: step, Message: err.Error()}
}
