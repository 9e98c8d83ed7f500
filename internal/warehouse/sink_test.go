package warehouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-warehouse/internal/dq"
)

var loadedAt = time.Date(2024, 2, 1, 12, 30, 0, 0, time.UTC)

func clean(values map[string]dq.Value) dq.CleanRecord {
	return dq.CleanRecord{Record: dq.Record{Row: 2, Values: values}, ProcessedAt: loadedAt}
}

func TestGoogleAds_Row(t *testing.T) {
	day := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	row := GoogleAds.Row(clean(map[string]dq.Value{
		"campaign_id":      dq.StringValue("g-1"),
		"campaign_name":    dq.StringValue("Brand"),
		"campaign_type":    dq.StringValue("SEARCH"),
		"date":             dq.DateValue(day),
		"impressions":      dq.NumberValue(1200),
		"clicks":           dq.NumberValue(48),
		"cost_micros":      dq.NumberValue(12_500_000),
		"conversions":      dq.NumberValue(2.5),
		"conversion_value": dq.NumberValue(310),
	}))

	assert.Equal(t, []any{
		"g-1", "Brand", "SEARCH", day,
		int64(1200), int64(48), 12.5, 2.5, float64(310),
		"google", loadedAt,
	}, row)
}

func TestFacebookAds_RowWithNulls(t *testing.T) {
	day := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	row := FacebookAds.Row(clean(map[string]dq.Value{
		"campaign_id":    dq.StringValue("fb-9"),
		"date":           dq.DateValue(day),
		"impressions":    dq.NumberValue(10),
		"clicks":         dq.NumberValue(1),
		"spend":          dq.NumberValue(3.2),
		"purchases":      dq.NumberValue(0),
		"purchase_value": dq.NumberValue(0),
	}))

	require.Len(t, row, len(FacebookAds.Columns))
	assert.Nil(t, row[1], "campaign_name")
	assert.Nil(t, row[8], "reach")
	assert.Nil(t, row[9], "frequency")
	assert.Equal(t, "facebook", row[10])
	assert.Equal(t, loadedAt, row[11])
}

func TestTables_ConflictKeysAreColumns(t *testing.T) {
	for _, table := range []Table{CRMRevenue, FacebookAds, GoogleAds} {
		cols := map[string]bool{}
		for _, c := range table.ColumnNames() {
			assert.False(t, cols[c], "%s lists %s twice", table.Name, c)
			cols[c] = true
		}
		for _, k := range append(append([]string{}, table.ConflictKeys...), table.UpdateCols...) {
			assert.True(t, cols[k], "%s: %s is not a column", table.Name, k)
		}
	}
}

func TestCRMRevenue_RowDateIsCalendarDay(t *testing.T) {
	ordered := time.Date(2024, 1, 5, 22, 0, 0, 0, time.FixedZone("EST", -5*3600))
	row := CRMRevenue.Row(clean(map[string]dq.Value{
		"order_id": dq.StringValue("1001"),
		"date":     dq.DateValue(ordered),
	}))

	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), row[2])
	assert.Nil(t, row[3], "missing revenue loads as NULL")
}

func TestSink_Load(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	records := []dq.CleanRecord{
		clean(map[string]dq.Value{
			"order_id":           dq.StringValue("1001"),
			"customer_id":        dq.StringValue("c-1"),
			"date":               dq.DateValue(loadedAt),
			"revenue":            dq.NumberValue(120),
			"channel_attributed": dq.StringValue("google"),
		}),
	}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_warehouse_stg_crm_revenue"}, CRMRevenue.ColumnNames()).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "warehouse"."stg_crm_revenue" .* ON CONFLICT \("order_id"\) DO UPDATE SET "customer_id" = EXCLUDED."customer_id"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := NewSink(mock).Load(context.Background(), CRMRevenue, records)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_LoadGoogleUpdatesMetricsOnly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_warehouse_stg_google_ads"}, GoogleAds.ColumnNames()).
		WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("campaign_id", "date"\) DO UPDATE SET "impressions" = EXCLUDED."impressions"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	_, err = NewSink(mock).Load(context.Background(), GoogleAds, []dq.CleanRecord{clean(map[string]dq.Value{
		"campaign_id": dq.StringValue("g-1"),
	})})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_LoadEmpty(t *testing.T) {
	n, err := NewSink(nil).Load(context.Background(), CRMRevenue, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSink_LoadError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("too many connections"))

	_, err = NewSink(mock).Load(context.Background(), FacebookAds, []dq.CleanRecord{clean(nil)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse: load warehouse.stg_facebook_ads")
}
