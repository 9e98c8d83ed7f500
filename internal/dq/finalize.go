package dq

import "time"

// Summary is the diagnostics payload for one batch.
type Summary struct {
	Source             string             `json:"source"`
	TotalRows          int                `json:"total_rows"`
	StructuralMismatch int                `json:"structural_mismatch"`
	Rejected           int                `json:"rejected"`
	RejectionsByReason map[ReasonCode]int `json:"rejections_by_reason"`
	Superseded         int                `json:"superseded"`
	Valid              int                `json:"valid"`
	Bounds             *Bounds            `json:"bounds,omitempty"`
	ProcessedAt        time.Time          `json:"processed_at"`
}

// RejectRate is the share of input rows rejected by DQ rules.
func (s Summary) RejectRate() float64 {
	if s.TotalRows == 0 {
		return 0
	}
	return float64(s.Rejected) / float64(s.TotalRows)
}

// StructuralRate is the share of input rows with a malformed shape.
func (s Summary) StructuralRate() float64 {
	if s.TotalRows == 0 {
		return 0
	}
	return float64(s.StructuralMismatch) / float64(s.TotalRows)
}

// Result is everything the engine produces for one batch.
type Result struct {
	Summary    Summary           `json:"summary"`
	Clean      []CleanRecord     `json:"clean"`
	Rejected   []Rejection       `json:"rejected"`
	Superseded []Superseded      `json:"superseded"`
	Structural []StructuralError `json:"structural"`
}

// Finalize stamps survivors with processedAt and builds the summary.
// It performs no filtering.
func Finalize(source string, totalRows int, processedAt time.Time, kept []Record, rejected []Rejection, superseded []Superseded, structural []StructuralError, bounds *Bounds) *Result {
	processedAt = processedAt.UTC()

	clean := make([]CleanRecord, len(kept))
	for i, r := range kept {
		clean[i] = CleanRecord{Record: r, ProcessedAt: processedAt}
	}

	byReason := make(map[ReasonCode]int)
	for _, rej := range rejected {
		for _, reason := range rej.Reasons {
			byReason[reason]++
		}
	}

	return &Result{
		Summary: Summary{
			Source:             source,
			TotalRows:          totalRows,
			StructuralMismatch: len(structural),
			Rejected:           len(rejected),
			RejectionsByReason: byReason,
			Superseded:         len(superseded),
			Valid:              len(clean),
			Bounds:             bounds,
			ProcessedAt:        processedAt,
		},
		Clean:      clean,
		Rejected:   rejected,
		Superseded: superseded,
		Structural: structural,
	}
}
