package source

import (
	"context"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-warehouse/internal/dq"
	"github.com/sells-group/campaign-warehouse/internal/fetcher"
	"github.com/sells-group/campaign-warehouse/internal/warehouse"
)

// Facebook reads the daily campaign export from the social ads manager.
// The export pads its tail with empty rows; those are dropped and counted
// rather than reported as missing data.
type Facebook struct {
	profiled
}

// NewFacebook returns the social-ads source with its built-in profile.
func NewFacebook() *Facebook {
	return &Facebook{profiled{FacebookProfile()}}
}

// Name implements Source.
func (f *Facebook) Name() string { return "facebook" }

// Table implements Source.
func (f *Facebook) Table() warehouse.Table { return warehouse.FacebookAds }

// Extract implements Source.
func (f *Facebook) Extract(ctx context.Context, r io.Reader) (*Extraction, error) {
	t, err := fetcher.ReadCSV(ctx, r, fetcher.CSVOptions{})
	if err != nil {
		return nil, eris.Wrap(err, "source: facebook: extract")
	}
	return tableBatch(f.Name(), t, true), nil
}

// FacebookProfile is the built-in profile for the social-ads export.
func FacebookProfile() dq.Profile {
	return dq.Profile{
		Name: "facebook",
		Fields: []dq.FieldSpec{
			{Name: "campaign_id", Type: dq.TypeString},
			{Name: "campaign_name", Type: dq.TypeString},
			{Name: "date", Type: dq.TypeDate},
			{Name: "impressions", Type: dq.TypeNumber},
			{Name: "clicks", Type: dq.TypeNumber},
			{Name: "spend", Type: dq.TypeNumber},
			{Name: "purchases", Type: dq.TypeNumber},
			{Name: "purchase_value", Type: dq.TypeNumber},
			{Name: "reach", Type: dq.TypeNumber},
			{Name: "frequency", Type: dq.TypeNumber},
		},
		Required:    []string{"campaign_id", "date", "impressions", "clicks", "spend", "purchases", "purchase_value"},
		NonNegative: []string{"impressions", "clicks", "spend", "purchases", "purchase_value"},
		NaturalKey:  []string{"campaign_id", "date"},
		Duplicates:  dq.DuplicatePolicy{Mode: dq.RejectAll},
	}
}
