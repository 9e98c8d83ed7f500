package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-warehouse/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "campaign-warehouse",
	Short: "Marketing performance ingest with data-quality screening",
	Long: "Reads CRM revenue, social-ads and search-ads exports, screens every row against " +
		"per-source data-quality profiles, loads the clean rows into warehouse staging tables " +
		"and records each run with its rejections.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
