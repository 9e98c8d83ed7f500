package dq

import (
	"math"
	"sort"
)

// iqrMultiplier is the Tukey fence multiplier.
const iqrMultiplier = 1.5

// Bounds are the IQR fences computed for an outlier field.
type Bounds struct {
	Field      string  `json:"field"`
	Q1         float64 `json:"q1"`
	Q3         float64 `json:"q3"`
	IQR        float64 `json:"iqr"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Population int     `json:"population"`
}

// Outside reports whether v lies strictly outside the fences.
func (b Bounds) Outside(v float64) bool {
	return v < b.Lower || v > b.Upper
}

// Quantile returns the p-quantile of sorted using linear interpolation
// between order statistics: h = (n-1)p, q = x[floor(h)] + (h-floor(h))(x[floor(h)+1]-x[floor(h)]).
// sorted must be ascending and non-empty.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// ComputeBounds computes IQR fences over every non-null value of field.
// It returns nil when fewer than two values exist, since the range is
// undefined.
func ComputeBounds(field string, records []Record) *Bounds {
	var values []float64
	for _, r := range records {
		v := r.Get(field)
		if v.Kind == KindNumber {
			values = append(values, v.Num)
		}
	}
	if len(values) < 2 {
		return nil
	}
	sort.Float64s(values)

	q1 := Quantile(values, 0.25)
	q3 := Quantile(values, 0.75)
	iqr := q3 - q1
	return &Bounds{
		Field:      field,
		Q1:         q1,
		Q3:         q3,
		IQR:        iqr,
		Lower:      q1 - iqrMultiplier*iqr,
		Upper:      q3 + iqrMultiplier*iqr,
		Population: len(values),
	}
}

// DetectOutliers screens p.OutlierField across the full normalized batch,
// including records other rules will reject. It returns no flags and nil
// bounds when the profile has no outlier field or the population is too
// small.
func DetectOutliers(p Profile, records []Record) ([]Flag, *Bounds) {
	if p.OutlierField == "" {
		return nil, nil
	}
	b := ComputeBounds(p.OutlierField, records)
	if b == nil {
		return nil, nil
	}

	var flags []Flag
	for _, r := range records {
		v := r.Get(p.OutlierField)
		if v.Kind == KindNumber && b.Outside(v.Num) {
			flags = append(flags, Flag{Row: r.Row, Reason: ReasonStatisticalOutlier})
		}
	}
	return flags, b
}
