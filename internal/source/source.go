// Package source turns the raw marketing exports into engine batches. Each
// Source knows its file format, its data-quality profile, and the staging
// table its clean records land in.
package source

import (
	"context"
	"io"
	"strings"

	"github.com/sells-group/campaign-warehouse/internal/dq"
	"github.com/sells-group/campaign-warehouse/internal/fetcher"
	"github.com/sells-group/campaign-warehouse/internal/warehouse"
)

// Extraction is the result of reading one export.
type Extraction struct {
	Batch *dq.RawBatch
	// BlankRows counts rows dropped because every cell was empty.
	BlankRows int
}

// Source defines one marketing export feeding the warehouse.
type Source interface {
	// Name returns the unique identifier ("crm", "facebook", "google").
	Name() string

	// Profile returns the data-quality profile the engine applies.
	Profile() dq.Profile

	// UseProfile replaces the built-in profile, e.g. from a profiles file.
	UseProfile(p dq.Profile)

	// Table returns the staging table clean records are loaded into.
	Table() warehouse.Table

	// Extract reads the export and returns an engine batch.
	Extract(ctx context.Context, r io.Reader) (*Extraction, error)
}

// profiled carries the swappable profile shared by every source.
type profiled struct {
	profile dq.Profile
}

func (p *profiled) Profile() dq.Profile     { return p.profile }
func (p *profiled) UseProfile(pr dq.Profile) { p.profile = pr }

// tableBatch converts a parsed table into a batch keyed by line number.
func tableBatch(name string, t *fetcher.Table, dropBlank bool) *Extraction {
	ex := &Extraction{Batch: &dq.RawBatch{
		Source:  name,
		Header:  t.Header,
		Records: make([]dq.RawRecord, 0, len(t.Rows)),
	}}
	for _, row := range t.Rows {
		if dropBlank && blank(row.Cells) {
			ex.BlankRows++
			continue
		}
		cells := make([]any, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = c
		}
		ex.Batch.Records = append(ex.Batch.Records, dq.RawRecord{Row: row.Line, Cells: cells})
	}
	return ex
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
