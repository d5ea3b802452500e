package align

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cwbudde/algo-dust/spectrum"
)

const defaultMinOverlap = 5

var (
	// ErrNilSpectrum indicates a nil observed or template spectrum.
	ErrNilSpectrum = errors.New("align: nil spectrum")
	// ErrInsufficientOverlap is matched by every *InsufficientOverlapError.
	ErrInsufficientOverlap = errors.New("align: insufficient overlap")
)

// InsufficientOverlapError reports that too few valid samples survived
// alignment for a fit to be constrained.
type InsufficientOverlapError struct {
	Valid    int
	Required int
	Grid     int
}

func (e *InsufficientOverlapError) Error() string {
	return fmt.Sprintf("align: insufficient overlap: %d valid of %d grid points, need %d", e.Valid, e.Grid, e.Required)
}

func (e *InsufficientOverlapError) Is(target error) bool { return target == ErrInsufficientOverlap }

// GridPolicy selects the shared wavelength grid.
type GridPolicy int

const (
	// GridObserved interpolates the template onto the observed wavelengths.
	GridObserved GridPolicy = iota
	// GridTemplate interpolates the observed spectrum onto the template wavelengths.
	GridTemplate
	// GridIntersection uses the union of both grids inside their common range.
	GridIntersection
)

// String returns the policy name.
func (g GridPolicy) String() string {
	switch g {
	case GridObserved:
		return "observed"
	case GridTemplate:
		return "template"
	case GridIntersection:
		return "intersection"
	default:
		return fmt.Sprintf("GridPolicy(%d)", int(g))
	}
}

// ParseGridPolicy parses the names returned by GridPolicy.String.
func ParseGridPolicy(s string) (GridPolicy, error) {
	switch s {
	case "observed", "observed_grid", "":
		return GridObserved, nil
	case "template", "template_grid":
		return GridTemplate, nil
	case "intersection":
		return GridIntersection, nil
	default:
		return 0, fmt.Errorf("align: unknown grid policy %q", s)
	}
}

// AlignedPair holds both spectra resampled onto one grid. A sample is valid
// only if both sides are valid, finite and have positive variance there.
type AlignedPair struct {
	Wavelength       []float64
	ObservedFlux     []float64
	ObservedVariance []float64
	TemplateFlux     []float64
	TemplateVariance []float64
	Valid            []bool
	Unit             spectrum.Unit
	Policy           GridPolicy
	// OutsideCoverage counts grid points that would have needed extrapolation.
	OutsideCoverage int
}

// Len returns the number of grid points.
func (p *AlignedPair) Len() int { return len(p.Wavelength) }

// NValid returns the number of valid grid points.
func (p *AlignedPair) NValid() int {
	n := 0
	for _, v := range p.Valid {
		if v {
			n++
		}
	}

	return n
}

// Option configures an Aligner.
type Option func(*config)

type config struct {
	policy      GridPolicy
	minOverlap  int
	smoothSigma float64
}

func defaultConfig() config {
	return config{policy: GridObserved, minOverlap: defaultMinOverlap}
}

// WithGridPolicy selects the shared grid.
func WithGridPolicy(p GridPolicy) Option {
	return func(cfg *config) {
		cfg.policy = p
	}
}

// WithMinOverlap sets the minimum number of valid aligned samples.
func WithMinOverlap(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.minOverlap = n
		}
	}
}

// WithTemplateSmoothing convolves the template with a Gaussian of sigma
// template pixels before interpolation, to match a lower-resolution
// observation. Zero disables smoothing.
func WithTemplateSmoothing(sigmaPixels float64) Option {
	return func(cfg *config) {
		if sigmaPixels >= 0 && !math.IsInf(sigmaPixels, 0) {
			cfg.smoothSigma = sigmaPixels
		}
	}
}

// Aligner resamples observed/template pairs onto a shared grid.
// It holds only configuration and is safe for concurrent use.
type Aligner struct {
	cfg config
}

// NewAligner creates an aligner.
func NewAligner(opts ...Option) *Aligner {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return &Aligner{cfg: cfg}
}

// Align is a one-shot convenience wrapper around NewAligner(opts...).Align.
func Align(observed, template *spectrum.Spectrum, opts ...Option) (*AlignedPair, error) {
	return NewAligner(opts...).Align(observed, template)
}

// Align resamples observed and template onto the configured grid.
// Inputs are not modified.
func (a *Aligner) Align(observed, template *spectrum.Spectrum) (*AlignedPair, error) {
	if observed == nil || template == nil {
		return nil, ErrNilSpectrum
	}

	if err := spectrum.CheckUnits(observed, template); err != nil {
		return nil, err
	}

	obs := sideOf(observed)

	tmpl := sideOf(template)
	if a.cfg.smoothSigma > 0 {
		if err := tmpl.smooth(a.cfg.smoothSigma); err != nil {
			return nil, fmt.Errorf("align: template smoothing: %w", err)
		}
	}

	grid := buildGrid(a.cfg.policy, obs.wave, tmpl.wave)

	pair := &AlignedPair{
		Wavelength:       grid,
		ObservedFlux:     make([]float64, len(grid)),
		ObservedVariance: make([]float64, len(grid)),
		TemplateFlux:     make([]float64, len(grid)),
		TemplateVariance: make([]float64, len(grid)),
		Valid:            make([]bool, len(grid)),
		Unit:             observed.Unit(),
		Policy:           a.cfg.policy,
	}

	valid := 0

	for i, w := range grid {
		of, ov, oOK, oCover := obs.sampleAt(w)
		tf, tv, tOK, tCover := tmpl.sampleAt(w)

		if !oCover || !tCover {
			pair.OutsideCoverage++
		}

		pair.ObservedFlux[i], pair.ObservedVariance[i] = of, ov
		pair.TemplateFlux[i], pair.TemplateVariance[i] = tf, tv

		if oOK && tOK {
			pair.Valid[i] = true
			valid++
		}
	}

	if valid < a.cfg.minOverlap {
		return nil, &InsufficientOverlapError{Valid: valid, Required: a.cfg.minOverlap, Grid: len(grid)}
	}

	return pair, nil
}

// buildGrid returns the strictly increasing shared grid for policy.
func buildGrid(policy GridPolicy, obs, tmpl []float64) []float64 {
	switch policy {
	case GridTemplate:
		return append([]float64(nil), tmpl...)
	case GridIntersection:
		lo := math.Max(obs[0], tmpl[0])
		hi := math.Min(obs[len(obs)-1], tmpl[len(tmpl)-1])

		merged := make([]float64, 0, len(obs)+len(tmpl))
		for _, src := range [][]float64{obs, tmpl} {
			for _, w := range src {
				if w >= lo && w <= hi {
					merged = append(merged, w)
				}
			}
		}

		sort.Float64s(merged)

		out := merged[:0]
		for i, w := range merged {
			if i == 0 || w > out[len(out)-1] {
				out = append(out, w)
			}
		}

		return out
	default:
		return append([]float64(nil), obs...)
	}
}
