package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fundwatch/etp-tracker/internal/model"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect tracker run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent tracker runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		o, st, err := initOrchestrator(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := o.ListRuns(ctx, runsLimit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs recorded.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id-prefix>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		o, st, err := initOrchestrator(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := o.ListRuns(ctx, 0)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		run, err := findRun(runs, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// findRun resolves a possibly-truncated run ID against the stored summaries.
func findRun(runs []model.RunSummary, prefix string) (*model.RunSummary, error) {
	var match *model.RunSummary
	for i := range runs {
		if len(runs[i].ID) < len(prefix) || runs[i].ID[:len(prefix)] != prefix {
			continue
		}
		if match != nil {
			return nil, eris.Errorf("run ID prefix %q is ambiguous", prefix)
		}
		match = &runs[i]
	}
	if match == nil {
		return nil, eris.Errorf("no run matches %q", prefix)
	}
	return match, nil
}

func formatRunsList(out io.Writer, runs []model.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tFILERS\tNEW\tSKIPPED\tERRORED\tFAILURES")
	_, _ = fmt.Fprintln(w, "--\t-------\t--------\t------\t---\t-------\t-------\t--------")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			truncateID(r.ID),
			r.StartedAt.Format("2006-01-02 15:04"),
			r.Duration.Round(time.Second),
			r.Filers,
			r.NewDocs,
			r.SkippedDocs,
			r.ErroredDocs,
			len(r.Errors),
		)
	}
	_ = w.Flush()
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
