package fit

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cwbudde/algo-dust/internal/numeric"
)

const (
	defaultEBVMax        = 5.0
	defaultRVMin         = 1.0
	defaultRVMax         = 8.0
	defaultMaxIterations = 200
	defaultTolerance     = 1e-8
)

// JacobianMode selects how residual derivatives are computed.
type JacobianMode int

const (
	// JacobianAuto uses analytic partials when the law provides them.
	JacobianAuto JacobianMode = iota
	// JacobianAnalytic requires an extinction.Differentiable law.
	JacobianAnalytic
	// JacobianFiniteDifference always uses central differences.
	JacobianFiniteDifference
)

// Config bundles the bounds and stopping rules of one fit. It is a plain
// value: copy it freely, concurrent fits never share mutable settings.
type Config struct {
	EBVMax        float64 // upper bound of E(B-V); lower bound is always 0
	RVMin         float64
	RVMax         float64
	FixRV         bool    // pin R_V to FixedRV instead of fitting it
	FixedRV       float64 // used only when FixRV is set
	MaxIterations int
	Tolerance     float64 // relative cost improvement that stops the fit
	// FitScale adds a free log-normalization between observed and template,
	// for templates that are not flux-calibrated to the target.
	FitScale bool
	Jacobian JacobianMode
	Logger   *zap.Logger // debug iteration trace; nil means no logging
}

// DefaultConfig returns E(B-V) in [0, 5], R_V free in [1, 8], 200
// iterations and a 1e-8 relative tolerance.
func DefaultConfig() Config {
	return Config{
		EBVMax:        defaultEBVMax,
		RVMin:         defaultRVMin,
		RVMax:         defaultRVMax,
		MaxIterations: defaultMaxIterations,
		Tolerance:     defaultTolerance,
	}
}

// Option mutates a Config under construction.
type Option func(*Config)

// NewConfig applies opts to DefaultConfig.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return cfg
}

// WithEBVMax sets the E(B-V) upper bound.
func WithEBVMax(v float64) Option {
	return func(cfg *Config) {
		cfg.EBVMax = v
	}
}

// WithRVBounds sets the allowed R_V interval.
func WithRVBounds(lo, hi float64) Option {
	return func(cfg *Config) {
		cfg.RVMin, cfg.RVMax = lo, hi
	}
}

// WithFixedRV pins R_V so only E(B-V) (and the scale, if enabled) is fitted.
func WithFixedRV(rv float64) Option {
	return func(cfg *Config) {
		cfg.FixRV = true
		cfg.FixedRV = rv
	}
}

// WithMaxIterations sets the iteration cap.
func WithMaxIterations(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxIterations = n
		}
	}
}

// WithTolerance sets the relative cost-improvement tolerance.
func WithTolerance(tol float64) Option {
	return func(cfg *Config) {
		if tol > 0 {
			cfg.Tolerance = tol
		}
	}
}

// WithScale enables fitting a free flux normalization.
func WithScale(enabled bool) Option {
	return func(cfg *Config) {
		cfg.FitScale = enabled
	}
}

// WithJacobian selects the derivative strategy.
func WithJacobian(mode JacobianMode) Option {
	return func(cfg *Config) {
		cfg.Jacobian = mode
	}
}

// WithLogger attaches a zap logger for debug iteration traces.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// normalizeConfig fills unset numeric fields with defaults.
func normalizeConfig(cfg Config) Config {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}

	if !(cfg.Tolerance > 0) {
		cfg.Tolerance = defaultTolerance
	}

	if cfg.RVMin == 0 && cfg.RVMax == 0 {
		cfg.RVMin, cfg.RVMax = defaultRVMin, defaultRVMax
	}

	if cfg.EBVMax == 0 {
		cfg.EBVMax = defaultEBVMax
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return cfg
}

func (cfg Config) validate() error {
	if !numeric.IsFinite(cfg.EBVMax) || cfg.EBVMax < 0 {
		return fmt.Errorf("%w: E(B-V) max %v", ErrInvalidConfig, cfg.EBVMax)
	}

	if !numeric.IsFinite(cfg.RVMin) || !numeric.IsFinite(cfg.RVMax) || cfg.RVMin <= 0 || cfg.RVMin > cfg.RVMax {
		return fmt.Errorf("%w: R_V bounds [%v, %v]", ErrInvalidConfig, cfg.RVMin, cfg.RVMax)
	}

	if cfg.FixRV && (!numeric.IsFinite(cfg.FixedRV) || cfg.FixedRV <= 0) {
		return fmt.Errorf("%w: fixed R_V %v", ErrInvalidConfig, cfg.FixedRV)
	}

	if cfg.Jacobian < JacobianAuto || cfg.Jacobian > JacobianFiniteDifference {
		return fmt.Errorf("%w: jacobian mode %d", ErrInvalidConfig, cfg.Jacobian)
	}

	return nil
}
