package spectrum

import "github.com/cwbudde/algo-dust/internal/numeric"

// Sample is one point of a spectrum.
type Sample struct {
	Wavelength float64
	Flux       float64
	Variance   float64
	Valid      bool
}

// Spectrum is an immutable, strictly increasing flux-versus-wavelength
// sequence. Construct it with [New].
type Spectrum struct {
	wavelength []float64
	flux       []float64
	variance   []float64
	valid      []bool
	unit       Unit
}

// Option configures spectrum construction.
type Option func(*config)

type config struct {
	mask []bool
}

// WithMask supplies a caller validity mask. false marks a sample as bad
// (e.g. sky line, detector artifact). The mask must match the sample count.
func WithMask(mask []bool) Option {
	return func(cfg *config) {
		cfg.mask = mask
	}
}

// New validates and copies the given arrays into a Spectrum.
// A nil variance means "unknown": all variances are zero, which the aligner
// treats as unusable for fitting while correction still passes them through.
// A negative variance is rejected with ErrNegativeVariance; NaN variances
// are kept and make the sample unusable.
func New(wavelength, flux, variance []float64, unit Unit, opts ...Option) (*Spectrum, error) {
	var cfg config
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if !unit.Valid() {
		return nil, malformed(ErrUnknownUnit, -1)
	}

	n := len(wavelength)
	if len(flux) != n || (variance != nil && len(variance) != n) || (cfg.mask != nil && len(cfg.mask) != n) {
		return nil, malformed(ErrLengthMismatch, -1)
	}

	if n < 2 {
		return nil, malformed(ErrTooShort, -1)
	}

	for i, w := range wavelength {
		if !numeric.IsFinite(w) {
			return nil, malformed(ErrNotIncreasing, i)
		}

		if i > 0 && w <= wavelength[i-1] {
			return nil, malformed(ErrNotIncreasing, i)
		}
	}

	s := &Spectrum{
		wavelength: append([]float64(nil), wavelength...),
		flux:       append([]float64(nil), flux...),
		variance:   make([]float64, n),
		valid:      make([]bool, n),
		unit:       unit,
	}

	for i, v := range variance {
		if v < 0 {
			return nil, malformed(ErrNegativeVariance, i)
		}

		s.variance[i] = v
	}

	for i := range s.valid {
		s.valid[i] = cfg.mask == nil || cfg.mask[i]
	}

	return s, nil
}

// Len returns the number of samples.
func (s *Spectrum) Len() int { return len(s.wavelength) }

// Unit returns the wavelength unit tag.
func (s *Spectrum) Unit() Unit { return s.unit }

// At returns sample i.
func (s *Spectrum) At(i int) Sample {
	return Sample{
		Wavelength: s.wavelength[i],
		Flux:       s.flux[i],
		Variance:   s.variance[i],
		Valid:      s.valid[i],
	}
}

// Range returns the first and last wavelength.
func (s *Spectrum) Range() (lo, hi float64) {
	return s.wavelength[0], s.wavelength[len(s.wavelength)-1]
}

// Wavelengths returns a copy of the wavelength grid.
func (s *Spectrum) Wavelengths() []float64 { return append([]float64(nil), s.wavelength...) }

// Fluxes returns a copy of the flux values.
func (s *Spectrum) Fluxes() []float64 { return append([]float64(nil), s.flux...) }

// Variances returns a copy of the flux variances.
func (s *Spectrum) Variances() []float64 { return append([]float64(nil), s.variance...) }

// Mask returns a copy of the caller validity mask.
func (s *Spectrum) Mask() []bool { return append([]bool(nil), s.valid...) }

// Usable reports whether sample i can take part in a fit: caller-valid,
// finite flux and finite positive variance.
func (s *Spectrum) Usable(i int) bool {
	return s.valid[i] && numeric.IsFinite(s.flux[i]) && numeric.IsFinite(s.variance[i]) && s.variance[i] > 0
}

// RestFrame returns a copy with wavelengths divided by (1+z). Flux density
// is left untouched; only the abscissa moves into the emitter frame.
func (s *Spectrum) RestFrame(z float64) (*Spectrum, error) {
	if !numeric.IsFinite(z) || z <= -1 {
		return nil, ErrInvalidRedshift
	}

	out := &Spectrum{
		wavelength: make([]float64, len(s.wavelength)),
		flux:       s.Fluxes(),
		variance:   s.Variances(),
		valid:      s.Mask(),
		unit:       s.unit,
	}

	scale := 1 / (1 + z)
	for i, w := range s.wavelength {
		out.wavelength[i] = w * scale
	}

	return out, nil
}

// CheckUnits returns a *UnitMismatchError if the two spectra carry
// different unit tags.
func CheckUnits(observed, template *Spectrum) error {
	if observed.unit != template.unit {
		return &UnitMismatchError{Observed: observed.unit, Template: template.unit}
	}

	return nil
}
