package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-warehouse/internal/audit"
	"github.com/sells-group/campaign-warehouse/internal/db"
	"github.com/sells-group/campaign-warehouse/internal/dq"
	"github.com/sells-group/campaign-warehouse/internal/fetcher"
	"github.com/sells-group/campaign-warehouse/internal/ingest"
	"github.com/sells-group/campaign-warehouse/internal/monitoring"
	"github.com/sells-group/campaign-warehouse/internal/source"
	"github.com/sells-group/campaign-warehouse/internal/warehouse"
)

// appEnv holds the long-lived dependencies shared by subcommands.
type appEnv struct {
	Pool     *pgxpool.Pool // nil unless a command needs the warehouse
	Audit    audit.Store
	Registry *source.Registry
	Opener   *fetcher.Opener
}

// Close releases the audit store and pool.
func (e *appEnv) Close() {
	if e.Audit != nil {
		if err := e.Audit.Close(); err != nil {
			zap.L().Warn("close audit store", zap.Error(err))
		}
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// initEnv connects what the command needs. needWarehouse forces a Postgres
// connection; the postgres audit driver implies one.
func initEnv(ctx context.Context, needWarehouse bool) (*appEnv, error) {
	env := &appEnv{}

	reg, err := initRegistry()
	if err != nil {
		return nil, err
	}
	env.Registry = reg
	env.Opener = initOpener()

	if needWarehouse || cfg.Audit.Driver == "postgres" {
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
		if err != nil {
			return nil, err
		}
		env.Pool = pool
	}

	st, err := initAudit(env.Pool)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Audit = st

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate audit store")
	}
	return env, nil
}

func initAudit(pool *pgxpool.Pool) (audit.Store, error) {
	switch cfg.Audit.Driver {
	case "sqlite":
		return audit.NewSQLite(cfg.Audit.SQLitePath)
	case "postgres":
		if pool == nil {
			return nil, eris.New("postgres audit driver needs store.database_url")
		}
		// The pool is owned by appEnv.
		return audit.NewPostgres(pool, nil), nil
	default:
		return nil, eris.Errorf("unsupported audit driver: %s", cfg.Audit.Driver)
	}
}

// initRegistry builds the source registry with any profile overrides applied.
func initRegistry() (*source.Registry, error) {
	reg := source.NewRegistry()
	if cfg.Profiles.File == "" {
		return reg, nil
	}
	set, err := source.LoadProfiles(cfg.Profiles.File)
	if err != nil {
		return nil, err
	}
	if err := reg.ApplyProfiles(set); err != nil {
		return nil, err
	}
	zap.L().Info("applied profile overrides",
		zap.String("file", cfg.Profiles.File),
		zap.Int("profiles", len(set)),
	)
	return reg, nil
}

func initOpener() *fetcher.Opener {
	return fetcher.NewOpener(fetcher.HTTPOptions{
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Fetch.MaxRetries,
		RatePerSec: cfg.Fetch.RatePerSec,
	})
}

// newRunner wires an ingest runner over env. The warehouse sink is attached
// only when a pool exists and dryRun is false.
func newRunner(env *appEnv, dryRun bool) *ingest.Runner {
	locations := make(map[string]string, len(cfg.Sources))
	for name, sc := range cfg.Sources {
		locations[name] = sc.Location
	}

	var loader ingest.Loader
	if env.Pool != nil && !dryRun {
		loader = warehouse.NewSink(env.Pool)
	}

	return ingest.NewRunner(
		env.Opener,
		dq.NewEngine(nil),
		loader,
		env.Audit,
		monitoring.NewAlerter(cfg.Monitoring),
		ingest.Options{
			Locations:     locations,
			MaxConcurrent: cfg.Ingest.MaxConcurrentSources,
			DryRun:        dryRun,
		},
	)
}
