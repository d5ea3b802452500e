package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cwbudde/algo-dust/align"
	"github.com/cwbudde/algo-dust/correct"
	"github.com/cwbudde/algo-dust/diagnostics"
	"github.com/cwbudde/algo-dust/extinction"
	"github.com/cwbudde/algo-dust/fit"
	"github.com/cwbudde/algo-dust/internal/asciispec"
	"github.com/cwbudde/algo-dust/internal/logger"
	"github.com/cwbudde/algo-dust/spectrum"
)

func fitCommand(a *app) *cobra.Command {
	var (
		redshift float64
		fixedRV  float64
		outPath  string
	)

	cmd := &cobra.Command{
		Use:   "fit OBSERVED TEMPLATE",
		Short: "Fit the reddening of an observed spectrum against a template",
		Long: "Aligns OBSERVED with the rest-frame TEMPLATE, fits E(B-V) and R_V, " +
			"prints the diagnostics report and optionally writes the corrected spectrum.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("redshift") {
				cfg.Redshift = redshift
			}

			if cmd.Flags().Changed("fixed-rv") {
				cfg.Fit.FixedRV = fixedRV
			}

			ctx := logger.WithFields(cmd.Context(), zap.String("observed", args[0]))

			law, err := cfg.ExtinctionLaw()
			if err != nil {
				return err
			}

			obs, tmpl, err := readPair(cfg.Unit, args[0], args[1])
			if err != nil {
				return err
			}

			alignOpts, err := cfg.AlignOptions()
			if err != nil {
				return err
			}

			fitOpts, err := cfg.FitOptions()
			if err != nil {
				return err
			}

			if logger.IsDebug(ctx) {
				fitOpts = append(fitOpts, fit.WithLogger(logger.Get(ctx)))
			}

			rest := obs
			if cfg.Redshift != 0 {
				if rest, err = obs.RestFrame(cfg.Redshift); err != nil {
					return err
				}
			}

			pair, err := align.Align(rest, tmpl, alignOpts...)
			if err != nil {
				return err
			}

			logger.Debug(ctx, "aligned",
				zap.Int("grid", pair.Len()),
				zap.Int("valid", pair.NValid()),
				zap.Stringer("policy", pair.Policy))

			res, err := fit.Fit(pair, law, cfg.InitialParams(), fitOpts...)
			if err != nil {
				return err
			}

			der, err := correct.CorrectFit(obs, law, res, correct.WithRedshift(cfg.Redshift))
			if err != nil {
				return err
			}

			report := diagnostics.Summarize(res, pair, der)
			if err := report.Write(cmd.OutOrStdout()); err != nil {
				return err
			}

			logger.Info(ctx, "fit done",
				zap.Float64("ebv", res.Params.EBV),
				zap.Float64("rv", res.Params.RV),
				zap.Bool("converged", res.Converged))

			if outPath == "" {
				return nil
			}

			return writeDereddened(outPath, der)
		},
	}

	cmd.Flags().Float64VarP(&redshift, "redshift", "z", 0, "source redshift, overrides the config")
	cmd.Flags().Float64Var(&fixedRV, "fixed-rv", 0, "pin R_V to this value (0 fits it)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the corrected spectrum to this file")

	return cmd
}

func readPair(unitName, observedPath, templatePath string) (*spectrum.Spectrum, *spectrum.Spectrum, error) {
	unit, err := spectrum.ParseUnit(unitName)
	if err != nil {
		return nil, nil, err
	}

	obs, err := asciispec.ReadFile(observedPath, asciispec.WithUnit(unit))
	if err != nil {
		return nil, nil, err
	}

	tmpl, err := asciispec.ReadFile(templatePath, asciispec.WithUnit(unit))
	if err != nil {
		return nil, nil, err
	}

	return obs, tmpl, nil
}

func writeDereddened(path string, der *correct.Dereddened) error {
	s, err := der.Spectrum()
	if err != nil {
		return err
	}

	return asciispec.WriteFile(path, s, dereddenedComments(der)...)
}

func dereddenedComments(der *correct.Dereddened) []string {
	comments := []string{
		fmt.Sprintf("law: %s", der.Law),
		fmt.Sprintf("E(B-V): %.6g", der.Params.EBV),
		fmt.Sprintf("R_V: %.6g", der.Params.RV),
		fmt.Sprintf("redshift: %.6g", der.Redshift),
		fmt.Sprintf("uncorrected (outside law range): %d", der.OutOfRangeCount()),
	}

	if der.ParamUncertaintyOmitted {
		comments = append(comments, "variance excludes parameter uncertainty")
	}

	return comments
}

func parseParams(ebv, rv float64) (extinction.Params, error) {
	p := extinction.Params{EBV: ebv, RV: rv}

	return p, p.Validate()
}
