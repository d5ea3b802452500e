package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-dust/extinction"
)

func lawsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "laws",
		Short: "List the available extinction laws",
		Args:  cobra.NoArgs,
		// Listing needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printLaws(cmd.OutOrStdout())
		},
	}
}

func printLaws(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintf(tw, "Law\tMin [Å]\tMax [Å]\tA(V) at E(B-V)=1, R_V=3.1\tAnalytic gradient\n"); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(tw, "---\t-------\t-------\t-------------------------\t-----------------\n"); err != nil {
		return err
	}

	for _, name := range extinction.Names() {
		law, err := extinction.Lookup(name)
		if err != nil {
			return err
		}

		lo, hi := law.Range()

		av, err := law.Magnitude(5494.5, extinction.Params{EBV: 1, RV: 3.1})
		if err != nil {
			return err
		}

		_, analytic := law.(extinction.Differentiable)

		if _, err := fmt.Fprintf(tw, "%s\t%.0f\t%.0f\t%.3f\t%v\n", name, lo, hi, av, analytic); err != nil {
			return err
		}
	}

	return tw.Flush()
}
