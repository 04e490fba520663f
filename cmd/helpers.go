package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/fundwatch/etp-tracker/internal/fetch"
	"github.com/fundwatch/etp-tracker/internal/pipeline"
	"github.com/fundwatch/etp-tracker/internal/registry"
	"github.com/fundwatch/etp-tracker/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "etp_tracker.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initOrchestrator builds the full pipeline stack over a migrated store.
// The caller owns closing the returned store.
func initOrchestrator(ctx context.Context) (*pipeline.Orchestrator, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}

	reg, err := registry.Load(cfg.Registry.OverridesPath)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	client := fetch.NewEdgarClient(st, fetch.Options{
		UserAgent:       cfg.Fetch.UserAgent,
		RateInterval:    cfg.Fetch.RateLimitInterval(),
		Timeout:         cfg.Fetch.Timeout(),
		RetryAttempts:   cfg.Fetch.RetryAttempts,
		HeaderReadBound: cfg.Fetch.HeaderReadBoundBytes,
	})

	return pipeline.New(st, client, reg, cfg.Pipeline), st, nil
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
