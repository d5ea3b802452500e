// Command unred measures and removes dust reddening from quasar spectra.
//
// Usage:
//
//	unred [-c config.yml] <command> [flags]
//
// Commands:
//
//	fit      fit E(B-V) and R_V of one observed spectrum against a template
//	correct  de-redden a spectrum with known parameters
//	batch    fit and correct every quasar listed in a manifest
//	laws     list the available extinction laws
//
// Spectra are whitespace-separated text: wavelength, flux and optional
// sigma and mask columns (see internal/asciispec).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cwbudde/algo-dust/internal/config"
	"github.com/cwbudde/algo-dust/internal/logger"
)

// app carries state shared by subcommands once the config is loaded.
type app struct {
	configPath string
	lawName    string
	unitName   string
	cfg        *config.Config
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("law") {
		cfg.Law = a.lawName
	}

	if cmd.Flags().Changed("unit") {
		cfg.Unit = a.unitName
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Setup(cfg.Environment, cfg.LogLevel); err != nil {
		return err
	}

	a.cfg = cfg

	return nil
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "unred",
		Short:         "Measure and remove dust reddening from quasar spectra",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path (YAML); empty reads the environment only")
	root.PersistentFlags().StringVar(&a.lawName, "law", "", "extinction law, overrides the config")
	root.PersistentFlags().StringVar(&a.unitName, "unit", "", "default wavelength unit of input spectra, overrides the config")

	root.AddCommand(
		fitCommand(a),
		correctCommand(a),
		batchCommand(a),
		lawsCommand(),
	)

	return root
}

func main() {
	ctx := context.Background()

	defer func() {
		if p := recover(); p != nil {
			logger.Error(ctx, "captured panic, exiting...", zap.Any("panic", p))
			logger.Sync()

			panic(p)
		}
	}()

	err := newRootCommand().ExecuteContext(ctx)
	logger.Sync()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1) //nolint: gocritic
	}
}
