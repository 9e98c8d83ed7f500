// Package dq decides, record by record, whether a marketing-performance batch
// is fit to load: it normalizes raw cells, applies rejection rules and an IQR
// outlier screen, resolves duplicate natural keys, and summarizes the outcome.
package dq

import (
	"sort"
	"strings"
	"time"
)

// RawRecord is one extracted row. Cells are aligned with RawBatch.Header.
type RawRecord struct {
	Row   int   `json:"row"`
	Cells []any `json:"cells"`
}

// RawBatch is the unit of work handed to the engine by a source.
type RawBatch struct {
	Source  string      `json:"source"`
	Header  []string    `json:"header"`
	Records []RawRecord `json:"records"`
}

// Record is a RawRecord after type coercion. Every declared field is present
// in Values, holding either a typed value or Null.
type Record struct {
	Row    int              `json:"row"`
	Values map[string]Value `json:"-"`
	Raw    *RawRecord       `json:"-"`
}

// Get returns the value of field, or Null when absent.
func (r Record) Get(field string) Value {
	return r.Values[field]
}

// Key renders the natural key of r over the given fields.
func (r Record) Key(fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = r.Get(f).Key()
	}
	return strings.Join(parts, "\x1f")
}

// Map returns the record's values as plain Go values keyed by field name.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		m[k] = v.Interface()
	}
	return m
}

// ReasonCode classifies why a record was rejected.
type ReasonCode string

const (
	ReasonStructuralMismatch ReasonCode = "structural_mismatch"
	ReasonMissingRequired    ReasonCode = "missing_required"
	ReasonInvalidCategorical ReasonCode = "invalid_categorical"
	ReasonNegativeValue      ReasonCode = "negative_value"
	ReasonDuplicateKey       ReasonCode = "duplicate_key"
	ReasonStatisticalOutlier ReasonCode = "statistical_outlier"
)

// reasonOrder is the canonical order reasons are reported in.
var reasonOrder = map[ReasonCode]int{
	ReasonStructuralMismatch: 0,
	ReasonMissingRequired:    1,
	ReasonInvalidCategorical: 2,
	ReasonNegativeValue:      3,
	ReasonDuplicateKey:       4,
	ReasonStatisticalOutlier: 5,
}

func sortReasons(reasons []ReasonCode) {
	sort.Slice(reasons, func(i, j int) bool {
		return reasonOrder[reasons[i]] < reasonOrder[reasons[j]]
	})
}

// Rejection is a record that matched at least one rule, with every reason it matched.
type Rejection struct {
	Record  Record       `json:"record"`
	Reasons []ReasonCode `json:"reasons"`
}

// Has reports whether the rejection carries reason.
func (r Rejection) Has(reason ReasonCode) bool {
	for _, got := range r.Reasons {
		if got == reason {
			return true
		}
	}
	return false
}

// StructuralError is a row whose raw shape did not match the header arity.
type StructuralError struct {
	Row        int `json:"row"`
	FieldCount int `json:"field_count"`
	Expected   int `json:"expected"`
}

// Superseded is a keep-latest loser, discarded in favor of a later occurrence
// of the same natural key. It is not a rejection.
type Superseded struct {
	Record       Record `json:"record"`
	SupersededBy int    `json:"superseded_by"`
}

// CleanRecord is a surviving record stamped for loading.
type CleanRecord struct {
	Record
	ProcessedAt time.Time `json:"processed_at"`
}
