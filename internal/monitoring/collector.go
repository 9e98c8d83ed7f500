package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-warehouse/internal/audit"
)

// MetricsSnapshot holds a point-in-time view of ingest health.
type MetricsSnapshot struct {
	RunsTotal    int `json:"runs_total"`
	RunsComplete int `json:"runs_complete"`
	RunsFailed   int `json:"runs_failed"`
	RunsRunning  int `json:"runs_running"`

	// Row totals over completed runs.
	RowsTotal  int     `json:"rows_total"`
	RowsValid  int     `json:"rows_valid"`
	Rejected   int     `json:"rejected"`
	Structural int     `json:"structural"`
	RowsLoaded int64   `json:"rows_loaded"`
	RejectRate float64 `json:"reject_rate"`

	Sources    map[string]*SourceStats `json:"sources"`
	FailedRuns []FailedRun             `json:"failed_runs,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SourceStats aggregates one source's runs within the window.
type SourceStats struct {
	Runs       int        `json:"runs"`
	Failed     int        `json:"failed"`
	RowsTotal  int        `json:"rows_total"`
	Rejected   int        `json:"rejected"`
	RejectRate float64    `json:"reject_rate"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
}

// FailedRun identifies a failed run for alert details.
type FailedRun struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Error  string `json:"error"`
}

// RunLister is the audit store subset the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter audit.RunFilter) ([]audit.Run, error)
}

// Collector gathers metrics from the audit store.
type Collector struct {
	runs RunLister
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

// Collect gathers a snapshot of ingest metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		Sources:       map[string]*SourceStats{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.runs.ListRuns(ctx, audit.RunFilter{
		Since: cutoff,
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		st := snap.Sources[r.Source]
		if st == nil {
			st = &SourceStats{}
			snap.Sources[r.Source] = st
		}
		st.Runs++
		if st.LastRunAt == nil || r.StartedAt.After(*st.LastRunAt) {
			started := r.StartedAt
			st.LastRunAt = &started
		}

		switch r.Status {
		case audit.StatusComplete:
			snap.RunsComplete++
			snap.RowsTotal += r.TotalRows
			snap.RowsValid += r.Valid
			snap.Rejected += r.Rejected
			snap.Structural += r.Structural
			snap.RowsLoaded += r.RowsLoaded
			st.RowsTotal += r.TotalRows
			st.Rejected += r.Rejected
		case audit.StatusFailed:
			snap.RunsFailed++
			st.Failed++
			snap.FailedRuns = append(snap.FailedRuns, FailedRun{ID: r.ID, Source: r.Source, Error: r.Error})
		case audit.StatusRunning:
			snap.RunsRunning++
		}
	}

	if snap.RowsTotal > 0 {
		snap.RejectRate = float64(snap.Rejected) / float64(snap.RowsTotal)
	}
	for _, st := range snap.Sources {
		if st.RowsTotal > 0 {
			st.RejectRate = float64(st.Rejected) / float64(st.RowsTotal)
		}
	}
	sort.Slice(snap.FailedRuns, func(i, j int) bool { return snap.FailedRuns[i].ID < snap.FailedRuns[j].ID })

	return snap, nil
}
