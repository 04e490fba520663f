package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fundwatch/etp-tracker/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history <filer-cik> <product-id>",
	Short: "Show a product's rename history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		o, st, err := initOrchestrator(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		history, err := o.History(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "history")
		}

		if len(history) == 0 {
			fmt.Fprintln(os.Stderr, "No name history for this product.")
			return nil
		}

		formatHistory(os.Stdout, history)
		return nil
	},
}

func formatHistory(out io.Writer, history []model.NameChange) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILED\tFORM\tACCESSION\tNAME")
	_, _ = fmt.Fprintln(w, "-----\t----\t---------\t----")
	for _, h := range history {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			h.FilingDate.Format("2006-01-02"),
			h.Form,
			h.Accession,
			h.Name,
		)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
