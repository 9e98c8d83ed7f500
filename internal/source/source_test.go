package source

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-warehouse/internal/dq"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var processedAt = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func clock() time.Time { return processedAt }

const crmCSV = `order_id,customer_id,order_date,revenue,channel_attributed,campaign_source,product_category,region
1001,c-1,2024-01-01,120.50,google,brand,shoes,west
1002,nan,2024-01-02,80,facebook,retarget,bags,east
1003,c-3,2024-01-03,95,Google ,brand,shoes,west,EXTRA
1004,c-4,15/01/2024,110,facebook,prospect,hats,south
1001,c-1,2024-01-05,130,google,brand,shoes,west
`

func TestCRM_ExtractCSV(t *testing.T) {
	ex, err := NewCRM().Extract(context.Background(), strings.NewReader(crmCSV))
	require.NoError(t, err)

	b := ex.Batch
	assert.Equal(t, "crm", b.Source)
	assert.Equal(t, "order_date", b.Header[2])
	require.Len(t, b.Records, 5)
	assert.Equal(t, 2, b.Records[0].Row)
	assert.Equal(t, 6, b.Records[4].Row)
	assert.Len(t, b.Records[2].Cells, 9)
	assert.Equal(t, "120.50", b.Records[0].Cells[3])
	assert.Zero(t, ex.BlankRows)
}

func TestCRM_EndToEnd(t *testing.T) {
	src := NewCRM()
	ex, err := src.Extract(context.Background(), strings.NewReader(crmCSV))
	require.NoError(t, err)

	res, err := dq.NewEngine(clock).Run(src.Profile(), ex.Batch)
	require.NoError(t, err)

	s := res.Summary
	assert.Equal(t, 5, s.TotalRows)
	assert.Equal(t, 1, s.StructuralMismatch)
	assert.Equal(t, 1, s.Rejected, "nan customer_id is missing")
	assert.Equal(t, 1, s.Superseded)
	assert.Equal(t, 2, s.Valid)
	require.Len(t, res.Structural, 1)
	assert.Equal(t, dq.StructuralError{Row: 4, FieldCount: 9, Expected: 8}, res.Structural[0])

	require.Len(t, res.Clean, 2)
	assert.Equal(t, 5, res.Clean[0].Row, "day-first date parsed")
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), res.Clean[0].Get("date").Time)
	assert.Equal(t, 6, res.Clean[1].Row, "later order 1001 wins")
	assert.InDelta(t, 130.0, res.Clean[1].Get("revenue").Num, 1e-9)
}

func TestCRM_ExtractXLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("orders")
	require.NoError(t, err)
	for _, cells := range [][]string{
		{"order_id", "customer_id", "order_date", "revenue", "channel_attributed", "campaign_source", "product_category", "region"},
		{"2001", "c-9", "2024-03-01", "42", "facebook", "", "", ""},
	} {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().SetString(c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	src := NewCRM()
	ex, err := src.Extract(context.Background(), &buf)
	require.NoError(t, err)
	require.Len(t, ex.Batch.Records, 1)
	assert.Equal(t, 2, ex.Batch.Records[0].Row)

	res, err := dq.NewEngine(clock).Run(src.Profile(), ex.Batch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Valid)
	assert.True(t, res.Clean[0].Get("region").IsNull())
}

func TestCRM_ExtractEmpty(t *testing.T) {
	_, err := NewCRM().Extract(context.Background(), strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source: crm: extract")
}

const facebookCSV = `campaign_id,campaign_name,date,impressions,clicks,spend,purchases,purchase_value,reach,frequency
fb-1,Spring,2024-01-01,1000,20,15.5,1,40,900,1.1
fb-1,Spring,2024-01-01,1100,22,16.0,1,40,950,1.2
fb-2,Summer,2024-01-01,500,-3,5,0,0,,
fb-3,Autumn,not-a-date,10,1,1,0,0,10,1
fb-4,Winter,2024-01-02,0,0,0,0,0,,
,,,,,,,,,
,,,,,,,,,
`

func TestFacebook_ExtractDropsBlankRows(t *testing.T) {
	ex, err := NewFacebook().Extract(context.Background(), strings.NewReader(facebookCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, ex.BlankRows)
	assert.Len(t, ex.Batch.Records, 5)
}

func TestFacebook_EndToEnd(t *testing.T) {
	src := NewFacebook()
	ex, err := src.Extract(context.Background(), strings.NewReader(facebookCSV))
	require.NoError(t, err)

	res, err := dq.NewEngine(clock).Run(src.Profile(), ex.Batch)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Summary.Valid)
	assert.Equal(t, 4, res.Summary.Rejected)
	assert.Equal(t, map[dq.ReasonCode]int{
		dq.ReasonDuplicateKey:    2,
		dq.ReasonNegativeValue:   1,
		dq.ReasonMissingRequired: 1,
	}, res.Summary.RejectionsByReason)
	assert.Equal(t, "fb-4", res.Clean[0].Get("campaign_id").Str)
	assert.Nil(t, res.Summary.Bounds)
}

const googleJSON = `{
  "campaigns": [
    {
      "campaign_id": 9001,
      "campaign_name": "Brand Search",
      "campaign_type": "SEARCH",
      "daily_metrics": [
        {"date": "2024-01-01", "impressions": 1200, "clicks": 48, "cost_micros": 12500000, "conversions": 2, "conversion_value": 310.0},
        {"date": "2024-01-02", "impressions": 900, "clicks": 30, "cost_micros": null, "conversions": 1, "conversion_value": 99.5}
      ]
    },
    {
      "campaign_id": "pmax-7",
      "campaign_name": "Performance Max",
      "campaign_type": "PERFORMANCE_MAX",
      "daily_metrics": [
        {"date": "2024-01-01", "impressions": 5000, "clicks": 120, "cost_micros": 40000000, "conversion_value": 800}
      ]
    }
  ]
}`

func TestGoogle_ExtractFlattens(t *testing.T) {
	ex, err := NewGoogle().Extract(context.Background(), strings.NewReader(googleJSON))
	require.NoError(t, err)

	b := ex.Batch
	assert.Equal(t, googleColumns, b.Header)
	require.Len(t, b.Records, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{b.Records[0].Row, b.Records[1].Row, b.Records[2].Row})
	assert.Equal(t, json.Number("9001"), b.Records[0].Cells[0])
	assert.Equal(t, "SEARCH", b.Records[1].Cells[2])
	assert.Nil(t, b.Records[2].Cells[7], "absent conversions key")
}

func TestGoogle_EndToEnd(t *testing.T) {
	src := NewGoogle()
	ex, err := src.Extract(context.Background(), strings.NewReader(googleJSON))
	require.NoError(t, err)

	res, err := dq.NewEngine(clock).Run(src.Profile(), ex.Batch)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Summary.Valid)
	assert.Equal(t, 1, res.Summary.Rejected)
	assert.Equal(t, []dq.ReasonCode{dq.ReasonMissingRequired}, res.Rejected[0].Reasons)
	assert.Equal(t, "9001", res.Clean[0].Get("campaign_id").Str)
	assert.True(t, res.Clean[1].Get("conversions").IsNull())
}

func TestGoogle_ExtractErrors(t *testing.T) {
	_, err := NewGoogle().Extract(context.Background(), strings.NewReader(`{"campaigns": [`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source: google: extract")

	_, err = NewGoogle().Extract(context.Background(), strings.NewReader(`{"data": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no campaigns array")
}

func TestGoogle_EmptyCampaigns(t *testing.T) {
	ex, err := NewGoogle().Extract(context.Background(), strings.NewReader(`{"campaigns": []}`))
	require.NoError(t, err)
	assert.Empty(t, ex.Batch.Records)
}

func TestBuiltInProfilesValidate(t *testing.T) {
	for _, src := range NewRegistry().All() {
		t.Run(src.Name(), func(t *testing.T) {
			p := src.Profile()
			require.NoError(t, p.Validate())
			assert.Equal(t, src.Name(), p.Name)

			cols := map[string]bool{}
			for _, c := range src.Table().ColumnNames() {
				cols[c] = true
			}
			for _, k := range p.NaturalKey {
				assert.True(t, cols[k], "natural key %s is a %s column", k, src.Table().Name)
			}
		})
	}
}
