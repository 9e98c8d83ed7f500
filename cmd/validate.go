package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/campaign-warehouse/internal/dq"
)

// validateReport is the JSON document printed by validate.
type validateReport struct {
	Summary    dq.Summary           `json:"summary"`
	BlankRows  int                  `json:"blank_rows"`
	Rejections []rejectionView      `json:"rejections"`
	Structural []dq.StructuralError `json:"structural"`
	Superseded []supersededView     `json:"superseded"`
}

type rejectionView struct {
	Row     int             `json:"row"`
	Reasons []dq.ReasonCode `json:"reasons"`
	Record  map[string]any  `json:"record"`
}

type supersededView struct {
	Row          int `json:"row"`
	SupersededBy int `json:"superseded_by"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Screen one export file and print the data-quality report",
	Long:  "Runs the data-quality engine over a single file without touching the warehouse or the audit store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		name, _ := cmd.Flags().GetString("source")
		file, _ := cmd.Flags().GetString("file")
		limit, _ := cmd.Flags().GetInt("limit")
		if file == "" {
			file = cfg.Location(name)
		}

		reg, err := initRegistry()
		if err != nil {
			return err
		}
		src, err := reg.Get(name)
		if err != nil {
			return err
		}

		rc, err := initOpener().Open(ctx, file)
		if err != nil {
			return err
		}
		defer rc.Close() //nolint:errcheck

		ex, err := src.Extract(ctx, rc)
		if err != nil {
			return err
		}
		res, err := dq.NewEngine(nil).Run(src.Profile(), ex.Batch)
		if err != nil {
			return eris.Wrap(err, "validate")
		}

		return writeValidateReport(os.Stdout, buildValidateReport(res, ex.BlankRows, limit))
	},
}

func init() {
	validateCmd.Flags().String("source", "", "source profile to apply (crm, facebook, google)")
	validateCmd.Flags().String("file", "", "file path or URL (default: sources.<name>.location)")
	validateCmd.Flags().Int("limit", 50, "max rejections to print (0 for all)")
	_ = validateCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(validateCmd)
}

func buildValidateReport(res *dq.Result, blankRows, limit int) validateReport {
	rep := validateReport{
		Summary:    res.Summary,
		BlankRows:  blankRows,
		Rejections: []rejectionView{},
		Structural: res.Structural,
		Superseded: []supersededView{},
	}
	if rep.Structural == nil {
		rep.Structural = []dq.StructuralError{}
	}
	for i, r := range res.Rejected {
		if limit > 0 && i >= limit {
			break
		}
		rep.Rejections = append(rep.Rejections, rejectionView{
			Row:     r.Record.Row,
			Reasons: r.Reasons,
			Record:  r.Record.Map(),
		})
	}
	for _, s := range res.Superseded {
		rep.Superseded = append(rep.Superseded, supersededView{Row: s.Record.Row, SupersededBy: s.SupersededBy})
	}
	return rep
}

func writeValidateReport(w io.Writer, rep validateReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
