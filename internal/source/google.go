package source

import (
	"context"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-warehouse/internal/dq"
	"github.com/sells-group/campaign-warehouse/internal/fetcher"
	"github.com/sells-group/campaign-warehouse/internal/warehouse"
)

// googleColumns is the flattened header: campaign attributes followed by
// one daily metrics entry.
var googleColumns = []string{
	"campaign_id", "campaign_name", "campaign_type",
	"date", "impressions", "clicks", "cost_micros", "conversions", "conversion_value",
}

type googlePayload struct {
	Campaigns []googleCampaign `json:"campaigns"`
}

type googleCampaign struct {
	ID           any              `json:"campaign_id"`
	Name         any              `json:"campaign_name"`
	Type         any              `json:"campaign_type"`
	DailyMetrics []map[string]any `json:"daily_metrics"`
}

// Google reads the search-ads API dump, a JSON document of campaigns each
// carrying a daily_metrics array.
type Google struct {
	profiled
}

// NewGoogle returns the search-ads source with its built-in profile.
func NewGoogle() *Google {
	return &Google{profiled{GoogleProfile()}}
}

// Name implements Source.
func (g *Google) Name() string { return "google" }

// Table implements Source.
func (g *Google) Table() warehouse.Table { return warehouse.GoogleAds }

// Extract implements Source. Every daily metrics entry becomes one row,
// numbered from 1 in document order. A metric key absent from an entry is
// a null cell.
func (g *Google) Extract(_ context.Context, r io.Reader) (*Extraction, error) {
	payload, err := fetcher.DecodeJSONObject[googlePayload](r)
	if err != nil {
		return nil, eris.Wrap(err, "source: google: extract")
	}
	if payload.Campaigns == nil {
		return nil, eris.New("source: google: payload has no campaigns array")
	}

	batch := &dq.RawBatch{Source: g.Name(), Header: googleColumns}
	row := 0
	for _, c := range payload.Campaigns {
		for _, m := range c.DailyMetrics {
			row++
			batch.Records = append(batch.Records, dq.RawRecord{
				Row: row,
				Cells: []any{
					c.ID, c.Name, c.Type,
					m["date"], m["impressions"], m["clicks"],
					m["cost_micros"], m["conversions"], m["conversion_value"],
				},
			})
		}
	}
	return &Extraction{Batch: batch}, nil
}

// GoogleProfile is the built-in profile for the search-ads dump.
func GoogleProfile() dq.Profile {
	return dq.Profile{
		Name: "google",
		Fields: []dq.FieldSpec{
			{Name: "campaign_id", Type: dq.TypeString},
			{Name: "campaign_name", Type: dq.TypeString},
			{Name: "campaign_type", Type: dq.TypeString},
			{Name: "date", Type: dq.TypeDate},
			{Name: "impressions", Type: dq.TypeNumber},
			{Name: "clicks", Type: dq.TypeNumber},
			{Name: "cost_micros", Type: dq.TypeNumber},
			{Name: "conversions", Type: dq.TypeNumber},
			{Name: "conversion_value", Type: dq.TypeNumber},
		},
		Required:    []string{"campaign_id", "date", "impressions", "clicks", "cost_micros", "conversion_value"},
		NonNegative: []string{"impressions", "clicks", "cost_micros", "conversions", "conversion_value"},
		NaturalKey:  []string{"campaign_id", "date"},
		Duplicates:  dq.DuplicatePolicy{Mode: dq.RejectAll},
	}
}
