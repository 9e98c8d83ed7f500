package dq

import (
	"time"

	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var fixedNow = time.Date(2024, 2, 1, 12, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func crmProfile() Profile {
	return Profile{
		Name: "crm",
		Fields: []FieldSpec{
			{Name: "order_id", Type: TypeString},
			{Name: "customer_id", Type: TypeString},
			{Name: "date", Column: "order_date", Type: TypeDate},
			{Name: "revenue", Type: TypeNumber},
			{Name: "channel_attributed", Type: TypeCategory},
		},
		Required:     []string{"order_id", "customer_id", "date", "revenue", "channel_attributed"},
		Categorical:  map[string][]string{"channel_attributed": {"google", "facebook"}},
		NonNegative:  []string{"revenue"},
		NaturalKey:   []string{"order_id"},
		OutlierField: "revenue",
		Duplicates:   DuplicatePolicy{Mode: KeepLatest, OrderBy: "date"},
	}
}

func adsProfile() Profile {
	return Profile{
		Name: "ads",
		Fields: []FieldSpec{
			{Name: "campaign_id", Type: TypeString},
			{Name: "date", Type: TypeDate},
			{Name: "impressions", Type: TypeNumber},
			{Name: "spend", Type: TypeNumber},
		},
		Required:    []string{"campaign_id", "date", "impressions", "spend"},
		NonNegative: []string{"impressions", "spend"},
		NaturalKey:  []string{"campaign_id", "date"},
		Duplicates:  DuplicatePolicy{Mode: RejectAll},
	}
}

var crmHeader = []string{"order_id", "customer_id", "order_date", "revenue", "channel_attributed"}

var adsHeader = []string{"campaign_id", "date", "impressions", "spend"}

// batchOf builds a batch numbering rows from 2, the first data line of a CSV.
func batchOf(source string, header []string, rows ...[]any) *RawBatch {
	b := &RawBatch{Source: source, Header: header}
	for i, cells := range rows {
		b.Records = append(b.Records, RawRecord{Row: i + 2, Cells: cells})
	}
	return b
}

func rowsOf(records []Record) []int {
	rows := make([]int, len(records))
	for i, r := range records {
		rows[i] = r.Row
	}
	return rows
}

func flagRows(flags []Flag) []int {
	rows := make([]int, len(flags))
	for i, f := range flags {
		rows[i] = f.Row
	}
	return rows
}
