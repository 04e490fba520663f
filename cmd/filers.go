package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fundwatch/etp-tracker/internal/model"
	"github.com/fundwatch/etp-tracker/internal/registry"
)

var filersCmd = &cobra.Command{
	Use:   "filers",
	Short: "List the tracked filers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := registry.Load(cfg.Registry.OverridesPath)
		if err != nil {
			return err
		}
		formatFilers(os.Stdout, reg.All())
		return nil
	},
}

func formatFilers(out io.Writer, filers []model.Filer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CIK\tACT\tNAME\tFORCED STRATEGY")
	_, _ = fmt.Fprintln(w, "---\t---\t----\t---------------")
	for _, f := range filers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			f.CIK,
			registry.ActType(f.CIK),
			f.Name,
			f.ForceStrategy,
		)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(filersCmd)
}
