package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cwbudde/algo-dust/correct"
	"github.com/cwbudde/algo-dust/internal/asciispec"
	"github.com/cwbudde/algo-dust/internal/logger"
	"github.com/cwbudde/algo-dust/spectrum"
)

func correctCommand(a *app) *cobra.Command {
	var (
		ebv, rv  float64
		redshift float64
		outPath  string
	)

	cmd := &cobra.Command{
		Use:   "correct SPECTRUM",
		Short: "De-redden a spectrum with known E(B-V) and R_V",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("redshift") {
				cfg.Redshift = redshift
			}

			law, err := cfg.ExtinctionLaw()
			if err != nil {
				return err
			}

			p, err := parseParams(ebv, rv)
			if err != nil {
				return err
			}

			unit, err := spectrum.ParseUnit(cfg.Unit)
			if err != nil {
				return err
			}

			obs, err := asciispec.ReadFile(args[0], asciispec.WithUnit(unit))
			if err != nil {
				return err
			}

			der, err := correct.Correct(obs, law, p, correct.WithRedshift(cfg.Redshift))
			if err != nil {
				return err
			}

			if n := der.OutOfRangeCount(); n > 0 {
				logger.Warn(cmd.Context(), "samples outside the law range were not corrected",
					zap.String("law", law.Name()), zap.Int("count", n))
			}

			if outPath != "" {
				return writeDereddened(outPath, der)
			}

			s, err := der.Spectrum()
			if err != nil {
				return err
			}

			return asciispec.Write(cmd.OutOrStdout(), s, dereddenedComments(der)...)
		},
	}

	cmd.Flags().Float64Var(&ebv, "ebv", 0.1, "color excess E(B-V)")
	cmd.Flags().Float64Var(&rv, "rv", 3.1, "total-to-selective extinction R_V")
	cmd.Flags().Float64VarP(&redshift, "redshift", "z", 0, "redshift of the dust screen, overrides the config")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file; stdout when empty")

	return cmd
}
