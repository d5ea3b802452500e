// Package config loads the unred command configuration from a YAML file
// with environment overrides and turns it into library options.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/cwbudde/algo-dust/align"
	"github.com/cwbudde/algo-dust/extinction"
	"github.com/cwbudde/algo-dust/fit"
	"github.com/cwbudde/algo-dust/spectrum"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid value")

// Config is the unred command configuration.
type Config struct {
	// Environment selects the logger flavor (development or production).
	Environment string `env:"UNRED_ENVIRONMENT" env-default:"development" yaml:"environment"`
	// LogLevel overrides the environment's default level when set.
	LogLevel string `env:"UNRED_LOG_LEVEL" yaml:"logLevel"`

	// Law names the extinction curve, see extinction.Names.
	Law string `env:"UNRED_LAW" env-default:"ccm89" yaml:"law"`
	// Unit is the wavelength unit of input spectra without a header tag.
	Unit string `env:"UNRED_UNIT" env-default:"angstrom" yaml:"unit"`
	// Redshift moves the dust screen to the source frame for correction.
	Redshift float64 `env:"UNRED_REDSHIFT" env-default:"0" yaml:"redshift"`

	Align struct {
		Grid              string  `env:"UNRED_ALIGN_GRID" env-default:"observed" yaml:"grid"`
		MinOverlap        int     `env:"UNRED_ALIGN_MIN_OVERLAP" env-default:"5" yaml:"minOverlap"`
		TemplateSmoothing float64 `env:"UNRED_ALIGN_TEMPLATE_SMOOTHING" env-default:"0" yaml:"templateSmoothing"`
	} `yaml:"align"`

	Fit struct {
		EBVMax float64 `env:"UNRED_FIT_EBV_MAX" env-default:"5" yaml:"ebvMax"`
		RVMin  float64 `env:"UNRED_FIT_RV_MIN" env-default:"1" yaml:"rvMin"`
		RVMax  float64 `env:"UNRED_FIT_RV_MAX" env-default:"8" yaml:"rvMax"`
		// FixedRV pins R_V when positive.
		FixedRV       float64 `env:"UNRED_FIT_FIXED_RV" env-default:"0" yaml:"fixedRV"`
		InitialEBV    float64 `env:"UNRED_FIT_INITIAL_EBV" env-default:"0.1" yaml:"initialEBV"`
		InitialRV     float64 `env:"UNRED_FIT_INITIAL_RV" env-default:"3.1" yaml:"initialRV"`
		MaxIterations int     `env:"UNRED_FIT_MAX_ITERATIONS" env-default:"200" yaml:"maxIterations"`
		Tolerance     float64 `env:"UNRED_FIT_TOLERANCE" env-default:"1e-8" yaml:"tolerance"`
		FitScale      bool    `env:"UNRED_FIT_SCALE" env-default:"false" yaml:"fitScale"`
		// Jacobian is auto, analytic or numeric.
		Jacobian string `env:"UNRED_FIT_JACOBIAN" env-default:"auto" yaml:"jacobian"`
	} `yaml:"fit"`

	Batch struct {
		// Workers bounds concurrent fits; 0 means GOMAXPROCS.
		Workers int `env:"UNRED_BATCH_WORKERS" env-default:"0" yaml:"workers"`
		// MetricsFile receives the run metrics in Prometheus text format.
		MetricsFile string `env:"UNRED_BATCH_METRICS_FILE" yaml:"metricsFile"`
	} `yaml:"batch"`
}

// Load reads the YAML file at path and applies environment overrides.
// An empty path reads the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&cfg)
	} else {
		err = cleanenv.ReadConfig(path, &cfg)
	}

	if err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks every field that has a closed set of values.
func (c *Config) Validate() error {
	if _, err := c.ExtinctionLaw(); err != nil {
		return fmt.Errorf("%w: law: %w", ErrInvalid, err)
	}

	if _, err := c.SpectrumUnit(); err != nil {
		return fmt.Errorf("%w: unit: %w", ErrInvalid, err)
	}

	if _, err := align.ParseGridPolicy(c.Align.Grid); err != nil {
		return fmt.Errorf("%w: align.grid: %w", ErrInvalid, err)
	}

	if _, err := c.jacobianMode(); err != nil {
		return err
	}

	if c.Redshift <= -1 {
		return fmt.Errorf("%w: redshift %v", ErrInvalid, c.Redshift)
	}

	if c.Batch.Workers < 0 {
		return fmt.Errorf("%w: batch.workers %d", ErrInvalid, c.Batch.Workers)
	}

	return nil
}

// ExtinctionLaw resolves the configured law.
func (c *Config) ExtinctionLaw() (extinction.Law, error) {
	return extinction.Lookup(c.Law)
}

// SpectrumUnit parses the configured wavelength unit.
func (c *Config) SpectrumUnit() (spectrum.Unit, error) {
	return spectrum.ParseUnit(c.Unit)
}

// InitialParams returns the starting guess of the fit.
func (c *Config) InitialParams() extinction.Params {
	return extinction.Params{EBV: c.Fit.InitialEBV, RV: c.Fit.InitialRV}
}

// AlignOptions converts the align section.
func (c *Config) AlignOptions() ([]align.Option, error) {
	policy, err := align.ParseGridPolicy(c.Align.Grid)
	if err != nil {
		return nil, fmt.Errorf("%w: align.grid: %w", ErrInvalid, err)
	}

	return []align.Option{
		align.WithGridPolicy(policy),
		align.WithMinOverlap(c.Align.MinOverlap),
		align.WithTemplateSmoothing(c.Align.TemplateSmoothing),
	}, nil
}

// FitOptions converts the fit section.
func (c *Config) FitOptions() ([]fit.Option, error) {
	mode, err := c.jacobianMode()
	if err != nil {
		return nil, err
	}

	opts := []fit.Option{
		fit.WithEBVMax(c.Fit.EBVMax),
		fit.WithRVBounds(c.Fit.RVMin, c.Fit.RVMax),
		fit.WithMaxIterations(c.Fit.MaxIterations),
		fit.WithTolerance(c.Fit.Tolerance),
		fit.WithScale(c.Fit.FitScale),
		fit.WithJacobian(mode),
	}

	if c.Fit.FixedRV > 0 {
		opts = append(opts, fit.WithFixedRV(c.Fit.FixedRV))
	}

	return opts, nil
}

func (c *Config) jacobianMode() (fit.JacobianMode, error) {
	switch strings.ToLower(strings.TrimSpace(c.Fit.Jacobian)) {
	case "", "auto":
		return fit.JacobianAuto, nil
	case "analytic":
		return fit.JacobianAnalytic, nil
	case "numeric", "finite-difference":
		return fit.JacobianFiniteDifference, nil
	default:
		return 0, fmt.Errorf("%w: fit.jacobian %q", ErrInvalid, c.Fit.Jacobian)
	}
}
