package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fundwatch/etp-tracker/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "etp-tracker",
	Short: "Incremental SEC EDGAR prospectus tracker for ETP launches",
	Long:  "Polls EDGAR submissions for tracked ETP trusts, extracts effective dates and fund identities from prospectus filings, and rolls filings up into per-product launch status.",
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
