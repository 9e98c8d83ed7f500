package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/campaign-warehouse/internal/dq"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// runs and dry runs when no warehouse database is configured.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// sqlitePragmas are applied by the driver to every pooled connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// sqliteDSN appends the connection pragmas to dsn as _pragma parameters.
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(dsn)
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(url.QueryEscape(p))
		sep = "&"
	}
	return b.String()
}

// NewSQLite opens a SQLite database at dsn in WAL mode. Writes are
// serialized through a single connection so concurrent runs queue instead
// of failing with SQLITE_BUSY.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Timestamps are unix nanoseconds so that range filters compare numerically.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS dq_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	dry_run      INTEGER NOT NULL DEFAULT 0,
	started_at   INTEGER NOT NULL,
	completed_at INTEGER,
	total_rows   INTEGER NOT NULL DEFAULT 0,
	valid_rows   INTEGER NOT NULL DEFAULT 0,
	rejected     INTEGER NOT NULL DEFAULT 0,
	superseded   INTEGER NOT NULL DEFAULT 0,
	structural   INTEGER NOT NULL DEFAULT 0,
	blank_rows   INTEGER NOT NULL DEFAULT 0,
	rows_loaded  INTEGER NOT NULL DEFAULT 0,
	summary      TEXT,
	error        TEXT
);

CREATE TABLE IF NOT EXISTS dq_rejections (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES dq_runs(id),
	source     TEXT NOT NULL,
	row_number INTEGER NOT NULL,
	reasons    TEXT NOT NULL,
	record     TEXT
);

CREATE INDEX IF NOT EXISTS idx_dq_runs_source ON dq_runs(source, started_at);
CREATE INDEX IF NOT EXISTS idx_dq_rejections_run_id ON dq_rejections(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Start(ctx context.Context, source string, dryRun bool) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dq_runs (id, source, status, dry_run, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, source, string(StatusRunning), dryRun, s.now().UnixNano(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start run for %s", source)
	}
	return id, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, runID string, rep *Report) error {
	summaryJSON, err := json.Marshal(rep.Summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE dq_runs
		 SET status = ?, completed_at = ?, total_rows = ?, valid_rows = ?, rejected = ?,
		     superseded = ?, structural = ?, blank_rows = ?, rows_loaded = ?, summary = ?
		 WHERE id = ?`,
		string(StatusComplete), s.now().UnixNano(), rep.Summary.TotalRows, rep.Summary.Valid,
		rep.Summary.Rejected, rep.Summary.Superseded, rep.Summary.StructuralMismatch,
		rep.BlankRows, rep.RowsLoaded, string(summaryJSON), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	if err := checkRowsAffected(res, "run", runID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dq_rejections (run_id, source, row_number, reasons, record) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare rejection insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range rejectionRows(runID, rep) {
		reasons, err := json.Marshal(r.Reasons)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal reasons")
		}
		record, err := json.Marshal(r.Record)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal row %d", r.Row)
		}
		if _, err := stmt.ExecContext(ctx, r.RunID, r.Source, r.Row, string(reasons), string(record)); err != nil {
			return eris.Wrapf(err, "sqlite: insert rejection row %d", r.Row)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) Fail(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dq_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(StatusFailed), s.now().UnixNano(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, source, status, dry_run, started_at, completed_at, total_rows, valid_rows,
	rejected, superseded, structural, blank_rows, rows_loaded, summary, error`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM dq_runs WHERE id = ?`, runID)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM dq_runs WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since.UnixNano())
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ListRejections(ctx context.Context, runID string, limit int) ([]Rejection, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, source, row_number, reasons, record FROM dq_rejections
		 WHERE run_id = ? ORDER BY row_number, id LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list rejections for %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []Rejection
	for rows.Next() {
		var (
			r       Rejection
			reasons string
			record  sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Source, &r.Row, &reasons, &record); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rejection")
		}
		if err := json.Unmarshal([]byte(reasons), &r.Reasons); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal reasons")
		}
		if record.Valid {
			if err := json.Unmarshal([]byte(record.String), &r.Record); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal record")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rejections iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*Run, error) {
	var (
		r           Run
		status      string
		startedAt   int64
		completedAt sql.NullInt64
		summaryJSON sql.NullString
		errMsg      sql.NullString
	)
	err := row.Scan(&r.ID, &r.Source, &status, &r.DryRun, &startedAt, &completedAt,
		&r.TotalRows, &r.Valid, &r.Rejected, &r.Superseded, &r.Structural, &r.BlankRows,
		&r.RowsLoaded, &summaryJSON, &errMsg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Status = RunStatus(status)
	r.StartedAt = time.Unix(0, startedAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		r.CompletedAt = &t
	}
	r.Error = errMsg.String
	if summaryJSON.Valid {
		r.Summary = &dq.Summary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}
