package main

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cwbudde/algo-dust/batch"
	"github.com/cwbudde/algo-dust/fit"
	"github.com/cwbudde/algo-dust/internal/config"
	"github.com/cwbudde/algo-dust/internal/logger"
)

// manifestEntry is one manifest line: name, observed, template, redshift.
type manifestEntry struct {
	name, observed, template string
	redshift                 float64
}

func batchCommand(a *app) *cobra.Command {
	var (
		workers     int
		outDir      string
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "batch MANIFEST",
		Short: "Fit and correct every quasar listed in MANIFEST",
		Long: "MANIFEST lists one quasar per line: NAME OBSERVED TEMPLATE [REDSHIFT]. " +
			"Relative paths are resolved against the manifest directory. Lines starting with '#' are ignored.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("workers") {
				cfg.Batch.Workers = workers
			}

			if cmd.Flags().Changed("metrics-file") {
				cfg.Batch.MetricsFile = metricsFile
			}

			entries, err := readManifest(args[0])
			if err != nil {
				return err
			}

			jobs, err := loadJobs(cfg, entries)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()

			runner, err := newRunner(cfg, reg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			logger.Info(ctx, "starting batch", zap.Int("jobs", len(jobs)), zap.Int("workers", runner.Workers()))

			outcomes, runErr := runner.Run(ctx, jobs)

			if err := printOutcomes(cmd.OutOrStdout(), outcomes); err != nil {
				return err
			}

			if outDir != "" {
				if err := writeOutcomes(outDir, outcomes); err != nil {
					return err
				}
			}

			if cfg.Batch.MetricsFile != "" {
				if err := prometheus.WriteToTextfile(cfg.Batch.MetricsFile, reg); err != nil {
					return fmt.Errorf("writing metrics: %w", err)
				}
			}

			return runErr
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent fits (0 = GOMAXPROCS), overrides the config")
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "write each corrected spectrum to DIR/NAME.txt")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write run metrics in Prometheus text format")

	return cmd
}

func newRunner(cfg *config.Config, reg prometheus.Registerer) (*batch.Runner, error) {
	law, err := cfg.ExtinctionLaw()
	if err != nil {
		return nil, err
	}

	alignOpts, err := cfg.AlignOptions()
	if err != nil {
		return nil, err
	}

	fitOpts, err := cfg.FitOptions()
	if err != nil {
		return nil, err
	}

	return batch.NewRunner(law,
		batch.WithWorkers(cfg.Batch.Workers),
		batch.WithAlignOptions(alignOpts...),
		batch.WithFitOptions(fitOpts...),
		batch.WithRegisterer(reg),
	)
}

func readManifest(path string) ([]manifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseManifest(f, filepath.Dir(path))
}

func parseManifest(r io.Reader, dir string) ([]manifestEntry, error) {
	var (
		entries []manifestEntry
		line    int
	)

	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}

		return filepath.Join(dir, p)
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++

		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 3 && len(fields) != 4 {
			return nil, fmt.Errorf("manifest line %d: want 3 or 4 columns, got %d", line, len(fields))
		}

		e := manifestEntry{name: fields[0], observed: resolve(fields[1]), template: resolve(fields[2])}

		if len(fields) == 4 {
			z, err := strconv.ParseFloat(fields[3], 64)
			if err != nil {
				return nil, fmt.Errorf("manifest line %d: redshift: %w", line, err)
			}

			e.redshift = z
		}

		entries = append(entries, e)
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func loadJobs(cfg *config.Config, entries []manifestEntry) ([]batch.Job, error) {
	jobs := make([]batch.Job, len(entries))

	for i, e := range entries {
		obs, tmpl, err := readPair(cfg.Unit, e.observed, e.template)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.name, err)
		}

		jobs[i] = batch.Job{
			Name:     e.name,
			Observed: obs,
			Template: tmpl,
			Redshift: e.redshift,
			Initial:  cfg.InitialParams(),
		}
	}

	return jobs, nil
}

func printOutcomes(w io.Writer, outcomes []batch.Outcome) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintf(tw, "Name\tE(B-V)\tsigma\tR_V\tsigma\tchi2_red\tConverged\tFlags\n"); err != nil {
		return err
	}

	for _, out := range outcomes {
		if out.Err != nil {
			if _, err := fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\t-\terror: %v\n", out.Name, out.Err); err != nil {
				return err
			}

			continue
		}

		res := out.Result

		flags := make([]string, len(out.Report.Flags))
		for i, f := range out.Report.Flags {
			flags[i] = f.String()
		}

		if _, err := fmt.Fprintf(tw, "%s\t%.4f\t%s\t%.3f\t%s\t%.3g\t%v\t%s\n",
			out.Name,
			res.Params.EBV, sigma(res, fit.ParamEBV),
			res.Params.RV, sigma(res, fit.ParamRV),
			res.ReducedChiSquare,
			res.Converged,
			strings.Join(flags, ","),
		); err != nil {
			return err
		}
	}

	return tw.Flush()
}

func sigma(res *fit.Result, p fit.Parameter) string {
	s := res.Sigma(p)
	if math.IsNaN(s) {
		return "-"
	}

	return strconv.FormatFloat(s, 'f', 4, 64)
}

func writeOutcomes(dir string, outcomes []batch.Outcome) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, out := range outcomes {
		if out.Dereddened == nil {
			continue
		}

		if err := writeDereddened(filepath.Join(dir, out.Name+".txt"), out.Dereddened); err != nil {
			return err
		}
	}

	return nil
}
