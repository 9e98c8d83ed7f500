// Package warehouse owns the Postgres staging schema: its migrations, the
// staging table layouts, and the idempotent loader for clean records.
package warehouse

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-warehouse/internal/db"
	"github.com/sells-group/campaign-warehouse/internal/dq"
)

// Sink upserts clean records into staging tables.
type Sink struct {
	pool db.Pool
}

// NewSink creates a Sink backed by pool.
func NewSink(pool db.Pool) *Sink {
	return &Sink{pool: pool}
}

// Load upserts records into t keyed on its natural key. Reloading the same
// records leaves the table unchanged apart from ingested_at.
func (s *Sink) Load(ctx context.Context, t Table, records []dq.CleanRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = t.Row(rec)
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        t.Name,
		Columns:      t.ColumnNames(),
		ConflictKeys: t.ConflictKeys,
		UpdateCols:   t.UpdateCols,
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "warehouse: load %s", t.Name)
	}

	zap.L().Info("warehouse: rows upserted",
		zap.String("table", t.Name),
		zap.Int("records", len(records)),
		zap.Int64("affected", n),
	)
	return n, nil
}
