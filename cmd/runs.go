package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/campaign-warehouse/internal/audit"
	"github.com/sells-group/campaign-warehouse/internal/monitoring"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingest run history",
	Long:  "Commands for listing, viewing, and summarizing audited ingest runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingest runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		src, _ := cmd.Flags().GetString("source")
		status, _ := cmd.Flags().GetString("status")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := audit.RunFilter{
			Source: src,
			Status: audit.RunStatus(status),
			Limit:  limit,
		}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		runs, err := env.Audit.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

// runDetail is the JSON document printed by runs show.
type runDetail struct {
	*audit.Run
	Rejections []audit.Rejection `json:"rejections"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its rejected rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Audit.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		limit, _ := cmd.Flags().GetInt("rejections")
		rejections, err := env.Audit.ListRejections(ctx, run.ID, limit)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		if rejections == nil {
			rejections = []audit.Rejection{}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runDetail{Run: run, Rejections: rejections})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate data-quality statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		since, _ := cmd.Flags().GetDuration("since")
		hours := int(since.Hours())
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}

		snap, err := monitoring.NewCollector(env.Audit).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("source", "", "filter by source (crm, facebook, google)")
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().Duration("since", 0, "only runs started within this window (e.g. 24h)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().Int("rejections", 100, "max rejected rows to include")

	runsStatsCmd.Flags().Duration("since", 0, "time window for stats (default monitoring.lookback_window_hours)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []audit.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tDRY\tROWS\tVALID\tREJECTED\tLOADED\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t---\t----\t-----\t--------\t------\t-------\t--------")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		dry := ""
		if r.DryRun {
			dry = "yes"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Source,
			r.Status,
			dry,
			r.TotalRows,
			r.Valid,
			r.Rejected,
			r.RowsLoaded,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.RunsRunning)
	_, _ = fmt.Fprintf(w, "Rows screened:\t%d\n", s.RowsTotal)
	_, _ = fmt.Fprintf(w, "Rows valid:\t%d\n", s.RowsValid)
	_, _ = fmt.Fprintf(w, "Rows rejected:\t%d (%.1f%%)\n", s.Rejected, s.RejectRate*100)
	_, _ = fmt.Fprintf(w, "Structural:\t%d\n", s.Structural)
	_, _ = fmt.Fprintf(w, "Rows loaded:\t%d\n", s.RowsLoaded)

	names := make([]string, 0, len(s.Sources))
	for name := range s.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := s.Sources[name]
		_, _ = fmt.Fprintf(w, "  %s:\t%d runs, %d failed, %.1f%% rejected\n",
			name, st.Runs, st.Failed, st.RejectRate*100)
	}
	if len(s.FailedRuns) > 0 {
		ids := make([]string, len(s.FailedRuns))
		for i, f := range s.FailedRuns {
			ids[i] = truncateID(f.ID)
		}
		_, _ = fmt.Fprintf(w, "Failed runs:\t%s\n", strings.Join(ids, ", "))
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
