package dq

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mixedCRMBatch() *RawBatch {
	return batchOf("crm", crmHeader,
		[]any{"1", "c-1", "2024-01-01", "10", "google"},      // 2 valid
		[]any{"2", "c-2", "2024-01-02", "12", "tiktok"},      // 3 invalid_categorical
		[]any{"3", "", "2024-01-03", "13", "facebook"},       // 4 missing_required
		[]any{"4", "c-4", "2024-01-04", "-5", "google"},      // 5 negative_value, outlier
		[]any{"5", "c-5", "2024-01-05", "14", "Google"},      // 6 valid
		[]any{"6", "c-6", "2024-01-06", "15", "google", "x"}, // 7 structural
		[]any{"7", "c-7", "2024-01-07", "16", "facebook"},    // 8 superseded by 9
		[]any{"7", "c-7", "2024-01-09", "15", "facebook"},    // 9 valid
		[]any{"8", "c-8", "2024-01-08", "100000", "tiktok"},  // 10 outlier + categorical
		[]any{"9", "c-9", "01/10/2024", "13", "google"},      // 11 valid
	)
}

func TestEngine_Run_MixedBatch(t *testing.T) {
	res, err := NewEngine(fixedClock).Run(crmProfile(), mixedCRMBatch())
	require.NoError(t, err)

	s := res.Summary
	assert.Equal(t, "crm", s.Source)
	assert.Equal(t, 10, s.TotalRows)
	assert.Equal(t, 1, s.StructuralMismatch)
	assert.Equal(t, 4, s.Rejected)
	assert.Equal(t, 1, s.Superseded)
	assert.Equal(t, 4, s.Valid)
	assert.Equal(t, map[ReasonCode]int{
		ReasonInvalidCategorical: 2,
		ReasonMissingRequired:    1,
		ReasonNegativeValue:      1,
		ReasonStatisticalOutlier: 2,
	}, s.RejectionsByReason)
	require.NotNil(t, s.Bounds)
	assert.InDelta(t, 7.5, s.Bounds.Lower, 1e-9)
	assert.InDelta(t, 19.5, s.Bounds.Upper, 1e-9)
	assert.Equal(t, fixedNow, s.ProcessedAt)

	var validRows []int
	for _, c := range res.Clean {
		validRows = append(validRows, c.Row)
		assert.Equal(t, fixedNow, c.ProcessedAt)
	}
	assert.Equal(t, []int{2, 6, 9, 11}, validRows)

	// -5 also falls below the lower fence of [7.5, 19.5].
	assert.Equal(t, 5, res.Rejected[2].Record.Row)
	assert.Equal(t, []ReasonCode{ReasonNegativeValue, ReasonStatisticalOutlier}, res.Rejected[2].Reasons)

	outlier := res.Rejected[len(res.Rejected)-1]
	assert.Equal(t, 10, outlier.Record.Row)
	assert.Equal(t, []ReasonCode{ReasonInvalidCategorical, ReasonStatisticalOutlier}, outlier.Reasons)

	require.Len(t, res.Superseded, 1)
	assert.Equal(t, 8, res.Superseded[0].Record.Row)
	assert.Equal(t, 9, res.Superseded[0].SupersededBy)
}

func TestEngine_Run_Partition(t *testing.T) {
	batches := map[string]struct {
		profile Profile
		batch   *RawBatch
	}{
		"crm": {crmProfile(), mixedCRMBatch()},
		"ads": {adsProfile(), batchOf("ads", adsHeader,
			[]any{"1", "2024-01-01", "100", "10"},
			[]any{"1", "2024-01-01", "100", "10"},
			[]any{"2", "2024-01-01", "-1", "10"},
			[]any{"3", "2024-01-01", "100"},
			[]any{"4", "", "100", "10"},
			[]any{"5", "2024-01-02", "0", "0"},
		)},
	}

	for name, tt := range batches {
		t.Run(name, func(t *testing.T) {
			res, err := NewEngine(fixedClock).Run(tt.profile, tt.batch)
			require.NoError(t, err)

			var seen []int
			for _, c := range res.Clean {
				seen = append(seen, c.Row)
			}
			for _, r := range res.Rejected {
				seen = append(seen, r.Record.Row)
			}
			for _, s := range res.Superseded {
				seen = append(seen, s.Record.Row)
			}
			for _, s := range res.Structural {
				seen = append(seen, s.Row)
			}
			sort.Ints(seen)

			var want []int
			for _, r := range tt.batch.Records {
				want = append(want, r.Row)
			}
			assert.Equal(t, want, seen, "every row lands in exactly one outcome")

			s := res.Summary
			assert.Equal(t, s.TotalRows, s.Valid+s.Rejected+s.Superseded+s.StructuralMismatch)
		})
	}
}

func TestEngine_Run_Idempotent(t *testing.T) {
	e := NewEngine(fixedClock)
	b := mixedCRMBatch()

	first, err := e.Run(crmProfile(), b)
	require.NoError(t, err)
	second, err := e.Run(crmProfile(), b)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second run differs (-first +second):\n%s", diff)
	}
}

func TestEngine_Run_RejectAllDuplicates(t *testing.T) {
	res, err := NewEngine(fixedClock).Run(adsProfile(), batchOf("ads", adsHeader,
		[]any{"1", "2024-01-01", "100", "10"},
		[]any{"1", "2024-01-01", "", "10"},
		[]any{"2", "2024-01-01", "100", "10"},
	))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Summary.Valid)
	assert.Equal(t, 2, res.Summary.Rejected)
	assert.Equal(t, 0, res.Summary.Superseded)
	assert.Equal(t, 2, res.Summary.RejectionsByReason[ReasonDuplicateKey])
	assert.True(t, res.Rejected[0].Has(ReasonDuplicateKey))
	assert.Equal(t, []ReasonCode{ReasonMissingRequired, ReasonDuplicateKey}, res.Rejected[1].Reasons)
}

func TestEngine_Run_KeepLatestScenario(t *testing.T) {
	res, err := NewEngine(fixedClock).Run(crmProfile(), batchOf("crm", crmHeader,
		[]any{"42", "c", "2024-01-01", "10", "google"},
		[]any{"42", "c", "2024-01-05", "11", "google"},
		[]any{"42", "c", "2024-01-03", "12", "google"},
	))
	require.NoError(t, err)

	require.Len(t, res.Clean, 1)
	assert.Equal(t, 3, res.Clean[0].Row)
	assert.Equal(t, 2, res.Summary.Superseded)
	assert.Equal(t, 0, res.Summary.Rejected)
	assert.Empty(t, res.Summary.RejectionsByReason)
}

func TestEngine_Run_VacuousOutlier(t *testing.T) {
	res, err := NewEngine(fixedClock).Run(crmProfile(), batchOf("crm", crmHeader,
		[]any{"1", "c", "2024-01-01", "999999", "google"},
		[]any{"2", "c", "2024-01-01", "", "google"},
	))
	require.NoError(t, err)
	assert.Nil(t, res.Summary.Bounds)
	assert.Zero(t, res.Summary.RejectionsByReason[ReasonStatisticalOutlier])
	assert.Equal(t, 1, res.Summary.Valid)
}

func TestEngine_Run_EmptyBatch(t *testing.T) {
	res, err := NewEngine(fixedClock).Run(crmProfile(), &RawBatch{Source: "crm", Header: crmHeader})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Summary.TotalRows)
	assert.Empty(t, res.Clean)
}

func TestEngine_Run_InvalidProfile(t *testing.T) {
	p := crmProfile()
	p.Required = append(p.Required, "region")
	_, err := NewEngine(fixedClock).Run(p, mixedCRMBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required field "region" is not declared`)
}

func TestEngine_Run_DuplicateRowIdentity(t *testing.T) {
	b := mixedCRMBatch()
	b.Records[1].Row = b.Records[0].Row
	_, err := NewEngine(fixedClock).Run(crmProfile(), b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate row identity")
}

func TestEngine_Run_NilBatch(t *testing.T) {
	_, err := NewEngine(nil).Run(crmProfile(), nil)
	assert.Error(t, err)
}

func TestSummary_Rates(t *testing.T) {
	s := Summary{TotalRows: 20, Rejected: 5, StructuralMismatch: 2}
	assert.InDelta(t, 0.25, s.RejectRate(), 1e-9)
	assert.InDelta(t, 0.10, s.StructuralRate(), 1e-9)
	assert.Zero(t, Summary{}.RejectRate())
	assert.Zero(t, Summary{}.StructuralRate())
}
