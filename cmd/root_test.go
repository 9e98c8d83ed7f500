package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-warehouse/internal/audit"
	"github.com/sells-group/campaign-warehouse/internal/dq"
	"github.com/sells-group/campaign-warehouse/internal/ingest"
	"github.com/sells-group/campaign-warehouse/internal/monitoring"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"ingest", "validate", "migrate", "runs", "profiles", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "campaign-warehouse", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_Flags(t *testing.T) {
	require.NotNil(t, ingestCmd.Flags().Lookup("sources"))
	flag := ingestCmd.Flags().Lookup("dry-run")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestValidateCommand_Flags(t *testing.T) {
	require.NotNil(t, validateCmd.Flags().Lookup("source"))
	require.NotNil(t, validateCmd.Flags().Lookup("file"))
	flag := validateCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])
	assert.True(t, names["stats"])
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(1500 * time.Millisecond)
	runs := []audit.Run{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Source:      "crm",
			Status:      audit.StatusComplete,
			StartedAt:   now,
			CompletedAt: &done,
			TotalRows:   120,
			Valid:       110,
			Rejected:    8,
			RowsLoaded:  110,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Source:    "google",
			Status:    audit.StatusRunning,
			DryRun:    true,
			StartedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "SOURCE")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "crm")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "yes")
}

func TestFormatRunStats(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		RunsTotal:    3,
		RunsComplete: 2,
		RunsFailed:   1,
		RowsTotal:    200,
		Rejected:     20,
		RejectRate:   0.1,
		Sources: map[string]*monitoring.SourceStats{
			"google": {Runs: 1, Failed: 1},
			"crm":    {Runs: 2, RowsTotal: 200, Rejected: 20, RejectRate: 0.1},
		},
		FailedRuns:    []monitoring.FailedRun{{ID: "fff12345-0000", Source: "google"}},
		LookbackHours: 24,
	}

	var buf bytes.Buffer
	formatRunStats(&buf, snap)
	output := buf.String()

	assert.Contains(t, output, "24h")
	assert.Contains(t, output, "20 (10.0%)")
	assert.Contains(t, output, "fff12345")
	assert.Less(t, strings.Index(output, "crm:"), strings.Index(output, "google:"), "sources sorted")
}

func TestFormatOutcomes(t *testing.T) {
	outcomes := []ingest.Outcome{
		{
			Source:     "crm",
			RunID:      "abc12345-0000",
			Summary:    &dq.Summary{TotalRows: 10, Valid: 8, Rejected: 1, Superseded: 1},
			RowsLoaded: 8,
			Alerts:     []monitoring.Alert{{Type: monitoring.AlertRejectRate}},
			Elapsed:    1234 * time.Millisecond,
		},
		{
			Source: "google",
			Err:    assert.AnError,
		},
	}

	var buf bytes.Buffer
	formatOutcomes(&buf, outcomes)
	output := buf.String()

	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "1.234s")
	assert.Contains(t, output, "google")
	assert.Contains(t, output, "assert.AnError")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateID("abcdefgh-1234"))
	assert.Equal(t, "abc", truncateID("abc"))
	assert.Equal(t, "", truncateID(""))
}
