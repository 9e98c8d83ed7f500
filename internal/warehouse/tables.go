package warehouse

import (
	"math"

	"github.com/sells-group/campaign-warehouse/internal/dq"
)

// Column maps a clean record onto one staging column.
type Column struct {
	Name  string
	Value func(dq.CleanRecord) any
}

// Table describes a staging table and how clean records fill it.
type Table struct {
	Name         string
	Columns      []Column
	ConflictKeys []string
	// UpdateCols lists the columns refreshed on conflict; nil refreshes
	// every non-key column.
	UpdateCols []string
}

// ColumnNames returns the table's column names in load order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Row renders rec as a COPY row.
func (t Table) Row(rec dq.CleanRecord) []any {
	row := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		row[i] = c.Value(rec)
	}
	return row
}

// Staging tables written by the ingest sources.
var (
	CRMRevenue = Table{
		Name: "warehouse.stg_crm_revenue",
		Columns: []Column{
			field("order_id"),
			field("customer_id"),
			day("date"),
			field("revenue"),
			field("channel_attributed"),
			field("campaign_source"),
			field("product_category"),
			field("region"),
			ingestedAt(),
		},
		ConflictKeys: []string{"order_id"},
	}

	FacebookAds = Table{
		Name: "warehouse.stg_facebook_ads",
		Columns: []Column{
			field("campaign_id"),
			field("campaign_name"),
			day("date"),
			count("impressions"),
			count("clicks"),
			field("spend"),
			count("purchases"),
			field("purchase_value"),
			count("reach"),
			field("frequency"),
			constant("source_system", "facebook"),
			ingestedAt(),
		},
		ConflictKeys: []string{"campaign_id", "date"},
	}

	GoogleAds = Table{
		Name: "warehouse.stg_google_ads",
		Columns: []Column{
			field("campaign_id"),
			field("campaign_name"),
			field("campaign_type"),
			day("date"),
			count("impressions"),
			count("clicks"),
			scaled("cost", "cost_micros", 1_000_000),
			field("conversions"),
			field("conversion_value"),
			constant("source_system", "google"),
			ingestedAt(),
		},
		ConflictKeys: []string{"campaign_id", "date"},
		UpdateCols: []string{
			"impressions", "clicks", "cost", "conversions",
			"conversion_value", "source_system", "ingested_at",
		},
	}
)

func field(name string) Column {
	return Column{Name: name, Value: func(rec dq.CleanRecord) any {
		return rec.Get(name).Interface()
	}}
}

// day loads a date field into a DATE column as its calendar day.
func day(name string) Column {
	return Column{Name: name, Value: func(rec dq.CleanRecord) any {
		return rec.Get(name).Day().Interface()
	}}
}

// count loads a whole-number metric as BIGINT.
func count(name string) Column {
	return Column{Name: name, Value: func(rec dq.CleanRecord) any {
		v := rec.Get(name)
		if v.Kind != dq.KindNumber {
			return nil
		}
		return int64(math.Round(v.Num))
	}}
}

// scaled divides a numeric field, e.g. micros into currency units.
func scaled(name, from string, divisor float64) Column {
	return Column{Name: name, Value: func(rec dq.CleanRecord) any {
		v := rec.Get(from)
		if v.Kind != dq.KindNumber {
			return nil
		}
		return v.Num / divisor
	}}
}

func constant(name string, value any) Column {
	return Column{Name: name, Value: func(dq.CleanRecord) any { return value }}
}

func ingestedAt() Column {
	return Column{Name: "ingested_at", Value: func(rec dq.CleanRecord) any {
		return rec.ProcessedAt
	}}
}
