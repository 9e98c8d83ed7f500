package dq

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Engine runs the normalize → validate → screen → aggregate → resolve →
// finalize chain over one batch. It holds no per-batch state, so a single
// Engine may be shared across goroutines.
type Engine struct {
	now func() time.Time
}

// NewEngine creates an engine. A nil clock defaults to time.Now.
func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// Run classifies every row of batch. DQ rejections are outcomes, not
// errors; Run fails only on an invalid profile or a malformed batch.
func (e *Engine) Run(p Profile, batch *RawBatch) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, eris.Errorf("dq: run %s: nil batch", p.Name)
	}
	if err := checkRowIdentity(batch); err != nil {
		return nil, eris.Wrapf(err, "dq: run %s", p.Name)
	}

	log := zap.L().With(zap.String("component", "dq.engine"), zap.String("source", p.Name))

	records, structural, err := Normalize(p, batch)
	if err != nil {
		return nil, err
	}
	if len(structural) > 0 {
		log.Warn("structurally malformed rows excluded", zap.Int("count", len(structural)))
	}

	// Every rule and the outlier screen see the complete normalized batch.
	var flagSets [][]Flag
	for _, rule := range Rules(p) {
		flagSets = append(flagSets, rule(p, records))
	}
	outliers, bounds := DetectOutliers(p, records)
	flagSets = append(flagSets, outliers)

	if bounds != nil {
		log.Debug("outlier bounds",
			zap.String("field", bounds.Field),
			zap.Float64("lower", bounds.Lower),
			zap.Float64("upper", bounds.Upper),
			zap.Int("outliers", len(outliers)),
		)
	} else if p.OutlierField != "" {
		log.Debug("outlier screen skipped: fewer than two values", zap.String("field", p.OutlierField))
	}

	valid, rejected := Aggregate(records, flagSets...)
	kept, superseded := Resolve(p, valid)

	result := Finalize(p.Name, len(batch.Records), e.now(), kept, rejected, superseded, structural, bounds)

	log.Info("batch classified",
		zap.Int("total", result.Summary.TotalRows),
		zap.Int("structural", result.Summary.StructuralMismatch),
		zap.Int("rejected", result.Summary.Rejected),
		zap.Int("superseded", result.Summary.Superseded),
		zap.Int("valid", result.Summary.Valid),
	)
	return result, nil
}

// checkRowIdentity ensures row positions are unique, since they are the
// record identity used to union rejection sets.
func checkRowIdentity(batch *RawBatch) error {
	seen := make(map[int]bool, len(batch.Records))
	for _, r := range batch.Records {
		if seen[r.Row] {
			return eris.Errorf("duplicate row identity %d", r.Row)
		}
		seen[r.Row] = true
	}
	return nil
}
