// Package ingest drives each source through fetch, extract, validate, load
// and audit.
package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/campaign-warehouse/internal/audit"
	"github.com/sells-group/campaign-warehouse/internal/dq"
	"github.com/sells-group/campaign-warehouse/internal/monitoring"
	"github.com/sells-group/campaign-warehouse/internal/source"
	"github.com/sells-group/campaign-warehouse/internal/warehouse"
)

// Opener resolves a source location to a readable stream.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// Loader writes clean records into a staging table.
type Loader interface {
	Load(ctx context.Context, t warehouse.Table, records []dq.CleanRecord) (int64, error)
}

// Recorder is the audit store subset the runner writes to.
type Recorder interface {
	Start(ctx context.Context, source string, dryRun bool) (string, error)
	Complete(ctx context.Context, runID string, rep *audit.Report) error
	Fail(ctx context.Context, runID string, errMsg string) error
}

// Options configures a Runner.
type Options struct {
	// Locations maps source name to file path or URL.
	Locations     map[string]string
	MaxConcurrent int
	DryRun        bool
}

// Outcome is the result of ingesting one source.
type Outcome struct {
	Source     string             `json:"source"`
	RunID      string             `json:"run_id,omitempty"`
	Summary    *dq.Summary        `json:"summary,omitempty"`
	BlankRows  int                `json:"blank_rows"`
	RowsLoaded int64              `json:"rows_loaded"`
	Alerts     []monitoring.Alert `json:"alerts,omitempty"`
	Elapsed    time.Duration      `json:"elapsed"`
	Err        error              `json:"-"`
}

// Runner runs sources concurrently. Loader may be nil for dry runs.
type Runner struct {
	opener   Opener
	engine   *dq.Engine
	loader   Loader
	recorder Recorder
	alerter  *monitoring.Alerter
	opts     Options
}

// NewRunner creates a Runner. alerter may be nil to skip per-run alerts.
func NewRunner(opener Opener, engine *dq.Engine, loader Loader, recorder Recorder, alerter *monitoring.Alerter, opts Options) *Runner {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Runner{
		opener:   opener,
		engine:   engine,
		loader:   loader,
		recorder: recorder,
		alerter:  alerter,
		opts:     opts,
	}
}

// Run ingests every source and returns one Outcome per source in input
// order. A failing source does not stop the others; all failures are
// returned joined once every source has finished.
func (r *Runner) Run(ctx context.Context, sources []source.Source) ([]Outcome, error) {
	log := zap.L().With(zap.String("component", "ingest.runner"))
	if len(sources) == 0 {
		log.Info("no sources selected")
		return nil, nil
	}
	if !r.opts.DryRun && r.loader == nil {
		return nil, eris.New("ingest: no warehouse loader configured (use --dry-run or set store.database_url)")
	}

	log.Info("starting ingest",
		zap.Int("sources", len(sources)),
		zap.Int("max_concurrent", r.opts.MaxConcurrent),
		zap.Bool("dry_run", r.opts.DryRun),
	)

	outcomes := make([]Outcome, len(sources))
	var mu sync.Mutex
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxConcurrent)

	for i, src := range sources {
		g.Go(func() error {
			out := r.runSource(gctx, src)
			outcomes[i] = out
			if out.Err != nil {
				mu.Lock()
				failures = append(failures, out.Err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	var loaded int64
	for _, o := range outcomes {
		loaded += o.RowsLoaded
	}
	log.Info("ingest complete",
		zap.Int("sources", len(sources)),
		zap.Int("failed", len(failures)),
		zap.Int64("rows_loaded", loaded),
	)

	return outcomes, errors.Join(failures...)
}

func (r *Runner) runSource(ctx context.Context, src source.Source) Outcome {
	name := src.Name()
	log := zap.L().With(zap.String("component", "ingest.runner"), zap.String("source", name))
	start := time.Now()
	out := Outcome{Source: name}

	runID, err := r.recorder.Start(ctx, name, r.opts.DryRun)
	if err != nil {
		out.Err = eris.Wrapf(err, "ingest: %s: start audit run", name)
		log.Error("failed to start audit run", zap.Error(err))
		return out
	}
	out.RunID = runID
	log = log.With(zap.String("run_id", runID))

	rep, err := r.process(ctx, src, log)
	out.Elapsed = time.Since(start)
	if err != nil {
		out.Err = err
		log.Error("ingest failed", zap.Error(err), zap.Duration("elapsed", out.Elapsed))
		if failErr := r.recorder.Fail(ctx, runID, err.Error()); failErr != nil {
			log.Error("failed to record run failure", zap.Error(failErr))
		}
		return out
	}

	out.Summary = &rep.Summary
	out.BlankRows = rep.BlankRows
	out.RowsLoaded = rep.RowsLoaded

	if err := r.recorder.Complete(ctx, runID, rep); err != nil {
		out.Err = eris.Wrapf(err, "ingest: %s: record run", name)
		log.Error("failed to record run completion", zap.Error(err))
		if failErr := r.recorder.Fail(ctx, runID, out.Err.Error()); failErr != nil {
			log.Error("failed to record run failure", zap.Error(failErr))
		}
		return out
	}

	if r.alerter != nil {
		out.Alerts = r.alerter.EvaluateRun(rep)
		if len(out.Alerts) > 0 {
			r.alerter.SendAlerts(ctx, out.Alerts)
		}
	}

	log.Info("ingest complete",
		zap.Int("total_rows", rep.Summary.TotalRows),
		zap.Int("valid", rep.Summary.Valid),
		zap.Int("rejected", rep.Summary.Rejected),
		zap.Int("superseded", rep.Summary.Superseded),
		zap.Int("structural", rep.Summary.StructuralMismatch),
		zap.Int("blank_rows", rep.BlankRows),
		zap.Int64("rows_loaded", rep.RowsLoaded),
		zap.Duration("elapsed", out.Elapsed),
	)
	return out
}

// process runs fetch, extract, validate and load for one source.
func (r *Runner) process(ctx context.Context, src source.Source, log *zap.Logger) (*audit.Report, error) {
	name := src.Name()
	location := r.opts.Locations[name]
	if location == "" {
		return nil, eris.Errorf("ingest: %s: no location configured (set sources.%s.location)", name, name)
	}

	rc, err := r.opener.Open(ctx, location)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: %s: open %s", name, location)
	}
	defer rc.Close() //nolint:errcheck

	ex, err := src.Extract(ctx, rc)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: %s", name)
	}
	if ex.BlankRows > 0 {
		log.Info("dropped blank rows", zap.Int("blank_rows", ex.BlankRows))
	}

	res, err := r.engine.Run(src.Profile(), ex.Batch)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: %s: validate", name)
	}
	if b := res.Summary.Bounds; b != nil {
		log.Info("outlier bounds",
			zap.String("field", b.Field),
			zap.Float64("lower", b.Lower),
			zap.Float64("upper", b.Upper),
		)
	}

	var loaded int64
	if !r.opts.DryRun {
		loaded, err = r.loader.Load(ctx, src.Table(), res.Clean)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: %s", name)
		}
	}

	return audit.NewReport(res, ex.BlankRows, loaded), nil
}
