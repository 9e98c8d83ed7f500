package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/campaign-warehouse/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch, screen and load the configured sources",
	Long: "Runs every selected source through extraction and the data-quality engine, " +
		"upserts clean rows into the warehouse staging tables and records the run. " +
		"With --dry-run nothing is written to the warehouse.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		names, _ := cmd.Flags().GetStringSlice("sources")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		dryRun = dryRun || cfg.Ingest.DryRun
		cfg.Ingest.DryRun = dryRun

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		env, err := initEnv(ctx, !dryRun)
		if err != nil {
			return err
		}
		defer env.Close()

		sources, err := env.Registry.Select(names)
		if err != nil {
			return err
		}

		outcomes, runErr := newRunner(env, dryRun).Run(ctx, sources)
		formatOutcomes(os.Stdout, outcomes)
		return runErr
	},
}

func init() {
	ingestCmd.Flags().StringSlice("sources", nil, "sources to ingest (default: all of crm, facebook, google)")
	ingestCmd.Flags().Bool("dry-run", false, "screen and audit without loading the warehouse")
	rootCmd.AddCommand(ingestCmd)
}

// formatOutcomes writes one line per source to w.
func formatOutcomes(out io.Writer, outcomes []ingest.Outcome) {
	if len(outcomes) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tRUN\tROWS\tVALID\tREJECTED\tSUPERSEDED\tSTRUCTURAL\tLOADED\tALERTS\tELAPSED\tERROR")
	for _, o := range outcomes {
		var total, valid, rejected, superseded, structural int
		if o.Summary != nil {
			total = o.Summary.TotalRows
			valid = o.Summary.Valid
			rejected = o.Summary.Rejected
			superseded = o.Summary.Superseded
			structural = o.Summary.StructuralMismatch
		}
		errMsg := ""
		if o.Err != nil {
			errMsg = o.Err.Error()
			if len(errMsg) > 60 {
				errMsg = errMsg[:57] + "..."
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			o.Source,
			truncateID(o.RunID),
			total, valid, rejected, superseded, structural,
			o.RowsLoaded,
			len(o.Alerts),
			o.Elapsed.Round(time.Millisecond),
			errMsg,
		)
	}
	_ = w.Flush()
}
