package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-warehouse/internal/db"
	"github.com/sells-group/campaign-warehouse/internal/dq"
	"github.com/sells-group/campaign-warehouse/internal/warehouse"
)

const rejectionsTable = "warehouse.dq_rejections"

var rejectionColumns = []string{"run_id", "source", "row_number", "reasons", "record"}

// PostgresStore implements Store on the warehouse database.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore over pool. closeFn, if non-nil, runs
// on Close.
func NewPostgres(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn}
}

// Migrate applies the warehouse migrations, which own the audit tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return warehouse.Migrate(ctx, s.pool)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Start implements Store.
func (s *PostgresStore) Start(ctx context.Context, source string, dryRun bool) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO warehouse.dq_runs (id, source, status, dry_run, started_at)
		 VALUES ($1, $2, $3, $4, now())`,
		id, source, string(StatusRunning), dryRun,
	)
	if err != nil {
		return "", eris.Wrapf(err, "audit: start run for %s", source)
	}
	return id, nil
}

// Complete writes the summary and copies every rejection in one
// transaction.
func (s *PostgresStore) Complete(ctx context.Context, runID string, rep *Report) error {
	summaryJSON, err := json.Marshal(rep.Summary)
	if err != nil {
		return eris.Wrap(err, "audit: marshal summary")
	}

	rows, err := copyRows(runID, rep)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "audit: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE warehouse.dq_runs
		 SET status = $1, completed_at = now(), total_rows = $2, valid_rows = $3,
		     rejected = $4, superseded = $5, structural = $6, blank_rows = $7,
		     rows_loaded = $8, summary = $9
		 WHERE id = $10`,
		string(StatusComplete), rep.Summary.TotalRows, rep.Summary.Valid,
		rep.Summary.Rejected, rep.Summary.Superseded, rep.Summary.StructuralMismatch,
		rep.BlankRows, rep.RowsLoaded, summaryJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "audit: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "audit: run %s", runID)
	}

	// pgx.Tx satisfies db.Pool.
	if _, err := db.CopyFrom(ctx, tx, rejectionsTable, rejectionColumns, rows); err != nil {
		return eris.Wrapf(err, "audit: store rejections for %s", runID)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "audit: commit tx")
	}
	return nil
}

func copyRows(runID string, rep *Report) ([][]any, error) {
	rejections := rejectionRows(runID, rep)
	rows := make([][]any, len(rejections))
	for i, r := range rejections {
		record, err := json.Marshal(r.Record)
		if err != nil {
			return nil, eris.Wrapf(err, "audit: marshal row %d", r.Row)
		}
		rows[i] = []any{r.RunID, r.Source, r.Row, r.Reasons, record}
	}
	return rows, nil
}

// Fail implements Store.
func (s *PostgresStore) Fail(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE warehouse.dq_runs SET status = $1, completed_at = now(), error = $2 WHERE id = $3`,
		string(StatusFailed), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "audit: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "audit: run %s", runID)
	}
	return nil
}

const runColumns = `id, source, status, dry_run, started_at, completed_at, total_rows, valid_rows,
	rejected, superseded, structural, blank_rows, rows_loaded, summary, error`

// GetRun implements Store.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM warehouse.dq_runs WHERE id = $1`, runID)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "audit: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "audit: get run %s", runID)
	}
	return r, nil
}

// ListRuns implements Store, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM warehouse.dq_runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Source != "" {
		query += ` AND source = ` + arg(filter.Source)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ` + arg(filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` ORDER BY started_at DESC LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "audit: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "audit: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "audit: list runs iterate")
}

// ListRejections implements Store, ordered by row.
func (s *PostgresStore) ListRejections(ctx context.Context, runID string, limit int) ([]Rejection, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, source, row_number, reasons, record
		 FROM warehouse.dq_rejections WHERE run_id = $1
		 ORDER BY row_number LIMIT $2`,
		runID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "audit: list rejections for %s", runID)
	}
	defer rows.Close()

	var out []Rejection
	for rows.Next() {
		var r Rejection
		var record []byte
		if err := rows.Scan(&r.RunID, &r.Source, &r.Row, &r.Reasons, &record); err != nil {
			return nil, eris.Wrap(err, "audit: scan rejection")
		}
		if len(record) > 0 {
			if err := json.Unmarshal(record, &r.Record); err != nil {
				return nil, eris.Wrap(err, "audit: unmarshal rejection record")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "audit: list rejections iterate")
}

func scanPostgresRun(row pgx.Row) (*Run, error) {
	var (
		r           Run
		status      string
		completedAt *time.Time
		summaryJSON []byte
		errMsg      *string
	)
	err := row.Scan(&r.ID, &r.Source, &status, &r.DryRun, &r.StartedAt, &completedAt,
		&r.TotalRows, &r.Valid, &r.Rejected, &r.Superseded, &r.Structural, &r.BlankRows,
		&r.RowsLoaded, &summaryJSON, &errMsg)
	if err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	r.CompletedAt = completedAt
	if errMsg != nil {
		r.Error = *errMsg
	}
	if len(summaryJSON) > 0 {
		r.Summary = &dq.Summary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "audit: unmarshal summary")
		}
	}
	return &r, nil
}
