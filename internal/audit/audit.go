// Package audit records every ingest run: its data-quality summary, each
// rejected row with its reasons, and each structurally malformed line.
package audit

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-warehouse/internal/dq"
)

// ErrNotFound is wrapped by lookups and updates of an unknown run.
var ErrNotFound = eris.New("not found")

// RunStatus is the lifecycle state of an ingest run.
type RunStatus string

const (
	StatusRunning  RunStatus = "running"
	StatusComplete RunStatus = "complete"
	StatusFailed   RunStatus = "failed"
)

// Run is one recorded ingest of one source.
type Run struct {
	ID          string      `json:"id"`
	Source      string      `json:"source"`
	Status      RunStatus   `json:"status"`
	DryRun      bool        `json:"dry_run"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	TotalRows   int         `json:"total_rows"`
	Valid       int         `json:"valid_rows"`
	Rejected    int         `json:"rejected"`
	Superseded  int         `json:"superseded"`
	Structural  int         `json:"structural"`
	BlankRows   int         `json:"blank_rows"`
	RowsLoaded  int64       `json:"rows_loaded"`
	Summary     *dq.Summary `json:"summary,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Report is what a finished run hands to Complete.
type Report struct {
	Summary    dq.Summary
	BlankRows  int
	RowsLoaded int64
	Rejections []dq.Rejection
	Structural []dq.StructuralError
}

// NewReport builds a Report from an engine result.
func NewReport(res *dq.Result, blankRows int, rowsLoaded int64) *Report {
	return &Report{
		Summary:    res.Summary,
		BlankRows:  blankRows,
		RowsLoaded: rowsLoaded,
		Rejections: res.Rejected,
		Structural: res.Structural,
	}
}

// Rejection is one stored rejected or malformed row.
type Rejection struct {
	RunID   string         `json:"run_id"`
	Source  string         `json:"source"`
	Row     int            `json:"row"`
	Reasons []string       `json:"reasons"`
	Record  map[string]any `json:"record,omitempty"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Source string    `json:"source,omitempty"`
	Status RunStatus `json:"status,omitempty"`
	Since  time.Time `json:"since,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// Store persists ingest runs.
type Store interface {
	// Start records a running ingest and returns its ID.
	Start(ctx context.Context, source string, dryRun bool) (string, error)
	// Complete stores the report and marks the run complete.
	Complete(ctx context.Context, runID string, rep *Report) error
	// Fail marks the run failed with errMsg.
	Fail(ctx context.Context, runID string, errMsg string) error

	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	ListRejections(ctx context.Context, runID string, limit int) ([]Rejection, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// rejectionRows flattens a report into stored rejections, DQ rejections
// first, then structural errors.
func rejectionRows(runID string, rep *Report) []Rejection {
	out := make([]Rejection, 0, len(rep.Rejections)+len(rep.Structural))
	for _, r := range rep.Rejections {
		reasons := make([]string, len(r.Reasons))
		for i, code := range r.Reasons {
			reasons[i] = string(code)
		}
		out = append(out, Rejection{
			RunID:   runID,
			Source:  rep.Summary.Source,
			Row:     r.Record.Row,
			Reasons: reasons,
			Record:  recordPayload(r.Record),
		})
	}
	for _, s := range rep.Structural {
		out = append(out, Rejection{
			RunID:   runID,
			Source:  rep.Summary.Source,
			Row:     s.Row,
			Reasons: []string{string(dq.ReasonStructuralMismatch)},
			Record: map[string]any{
				"field_count": s.FieldCount,
				"expected":    s.Expected,
			},
		})
	}
	return out
}

// recordPayload renders normalized values, keeping the raw cells so that a
// value that failed coercion is still visible.
func recordPayload(r dq.Record) map[string]any {
	m := make(map[string]any, len(r.Values)+1)
	for k, v := range r.Values {
		if v.IsNull() {
			m[k] = nil
			continue
		}
		m[k] = v.String()
	}
	if r.Raw != nil {
		m["_raw"] = r.Raw.Cells
	}
	return m
}
