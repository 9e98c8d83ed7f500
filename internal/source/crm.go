package source

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-warehouse/internal/dq"
	"github.com/sells-group/campaign-warehouse/internal/fetcher"
	"github.com/sells-group/campaign-warehouse/internal/warehouse"
)

// zipMagic opens every .xlsx workbook.
var zipMagic = []byte("PK\x03\x04")

// CRM reads the order-level revenue export. The CRM hands out CSV by
// default and an .xlsx workbook from its manual export screen; both are
// accepted and told apart by content.
type CRM struct {
	profiled
}

// NewCRM returns the CRM source with its built-in profile.
func NewCRM() *CRM {
	return &CRM{profiled{CRMProfile()}}
}

// Name implements Source.
func (c *CRM) Name() string { return "crm" }

// Table implements Source.
func (c *CRM) Table() warehouse.Table { return warehouse.CRMRevenue }

// Extract implements Source. Rows keep their file line number so that
// structural errors point at the offending line.
func (c *CRM) Extract(ctx context.Context, r io.Reader) (*Extraction, error) {
	br := bufio.NewReader(r)
	magic, _ := br.Peek(len(zipMagic))

	var (
		t   *fetcher.Table
		err error
	)
	if bytes.Equal(magic, zipMagic) {
		t, err = fetcher.ReadXLSX(br, fetcher.XLSXOptions{})
	} else {
		t, err = fetcher.ReadCSV(ctx, br, fetcher.CSVOptions{})
	}
	if err != nil {
		return nil, eris.Wrap(err, "source: crm: extract")
	}
	return tableBatch(c.Name(), t, false), nil
}

// CRMProfile is the built-in profile for the CRM revenue export.
func CRMProfile() dq.Profile {
	return dq.Profile{
		Name: "crm",
		Fields: []dq.FieldSpec{
			{Name: "order_id", Type: dq.TypeString},
			{Name: "customer_id", Type: dq.TypeString},
			{Name: "date", Column: "order_date", Type: dq.TypeDate},
			{Name: "revenue", Type: dq.TypeNumber},
			{Name: "channel_attributed", Type: dq.TypeCategory},
			{Name: "campaign_source", Type: dq.TypeString},
			{Name: "product_category", Type: dq.TypeString},
			{Name: "region", Type: dq.TypeString},
		},
		Required:     []string{"order_id", "customer_id", "date", "revenue", "channel_attributed"},
		Categorical:  map[string][]string{"channel_attributed": {"google", "facebook"}},
		NonNegative:  []string{"revenue"},
		NaturalKey:   []string{"order_id"},
		OutlierField: "revenue",
		Duplicates:   dq.DuplicatePolicy{Mode: dq.KeepLatest, OrderBy: "date"},
	}
}
