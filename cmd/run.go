package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fundwatch/etp-tracker/internal/pipeline"
)

var (
	runFilers []string
	runForce  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one tracker pass over the tracked filers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		o, st, err := initOrchestrator(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		summary, err := o.Run(ctx, pipeline.RunOptions{
			FilerCIKs:      runFilers,
			ForceReprocess: runForce,
		})
		if err != nil {
			return eris.Wrap(err, "tracker run")
		}

		zap.L().Info("tracker pass complete",
			zap.String("run_id", summary.ID),
			zap.Int("filers", summary.Filers),
			zap.Int("new_docs", summary.NewDocs),
			zap.Int("skipped_docs", summary.SkippedDocs),
			zap.Int("errored_docs", summary.ErroredDocs),
			zap.Int("filer_errors", len(summary.Errors)),
		)

		fmt.Fprintln(os.Stderr, summary.SummaryLine())

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runFilers, "filer", nil, "restrict the pass to these filer CIKs (repeatable)")
	runCmd.Flags().BoolVar(&runForce, "force", false, "invalidate manifests first and reprocess every document")
	rootCmd.AddCommand(runCmd)
}
