package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fundwatch/etp-tracker/internal/model"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <filer-cik>",
	Short: "Show the current launch status of a filer's products",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		o, st, err := initOrchestrator(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		statuses, err := o.Status(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(statuses)
		}

		if len(statuses) == 0 {
			fmt.Fprintln(os.Stderr, "No products tracked yet for this filer; run a tracker pass first.")
			return nil
		}

		formatStatuses(os.Stdout, statuses)
		return nil
	},
}

func formatStatuses(out io.Writer, statuses []model.ProductStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PRODUCT\tNAME\tTICKER\tSTATUS\tEFFECTIVE\tCONF\tLATEST FORM")
	_, _ = fmt.Fprintln(w, "-------\t----\t------\t------\t---------\t----\t-----------")

	for _, s := range statuses {
		eff := ""
		if s.EffectiveDate != nil {
			eff = s.EffectiveDate.Format("2006-01-02")
		}

		name := s.Name
		if len(name) > 40 {
			name = name[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ProductID,
			name,
			s.Ticker,
			s.Status,
			eff,
			s.DateConfidence,
			s.LatestForm,
		)
	}
	_ = w.Flush()
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(statusCmd)
}
