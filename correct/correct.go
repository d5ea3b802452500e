package correct

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-dust/extinction"
	"github.com/cwbudde/algo-dust/fit"
	"github.com/cwbudde/algo-dust/internal/numeric"
	"github.com/cwbudde/algo-dust/spectrum"
)

var (
	// ErrNilInput indicates a nil spectrum, law or fit result.
	ErrNilInput = errors.New("correct: nil spectrum, law or fit result")
	// ErrInvalidParams indicates non-finite extinction parameters.
	ErrInvalidParams = errors.New("correct: non-finite extinction parameters")
	// ErrCovarianceShape indicates a covariance whose size differs from the
	// number of listed free parameters.
	ErrCovarianceShape = errors.New("correct: covariance does not match free parameters")
)

// Dereddened is a spectrum with the extinction removed, on the observed
// grid and in the observed unit.
type Dereddened struct {
	Wavelength []float64
	Flux       []float64
	Variance   []float64
	Valid      []bool
	// LawRangeExceeded marks samples outside the law's range; their flux
	// and variance are passed through uncorrected.
	LawRangeExceeded []bool
	Unit             spectrum.Unit

	Law      string
	Params   extinction.Params
	Redshift float64
	// ParamUncertaintyOmitted is set when no usable covariance was given,
	// so Variance carries only the propagated measurement noise.
	ParamUncertaintyOmitted bool
}

// Len returns the number of samples.
func (d *Dereddened) Len() int { return len(d.Wavelength) }

// OutOfRangeCount returns how many samples were passed through uncorrected.
func (d *Dereddened) OutOfRangeCount() int {
	n := 0
	for _, v := range d.LawRangeExceeded {
		if v {
			n++
		}
	}

	return n
}

// Spectrum returns the corrected data as a Spectrum carrying the input mask.
func (d *Dereddened) Spectrum() (*spectrum.Spectrum, error) {
	return spectrum.New(d.Wavelength, d.Flux, d.Variance, d.Unit, spectrum.WithMask(d.Valid))
}

// Option configures a single correction.
type Option func(*config)

type config struct {
	cov      mat.Symmetric
	free     []fit.Parameter
	redshift float64
}

// WithCovariance supplies the parameter covariance used to propagate the
// fit uncertainty. free gives the parameter of each covariance row, as in
// fit.Result.Free. A nil or non-finite covariance is ignored.
func WithCovariance(cov mat.Symmetric, free []fit.Parameter) Option {
	if sd, ok := cov.(*mat.SymDense); ok && sd == nil {
		cov = nil
	}

	return func(cfg *config) {
		cfg.cov = cov
		cfg.free = append([]fit.Parameter(nil), free...)
	}
}

// WithRedshift evaluates the law at lambda/(1+z), for dust at the source
// redshift. The output stays on the observed grid.
func WithRedshift(z float64) Option {
	return func(cfg *config) {
		cfg.redshift = z
	}
}

// Corrector removes the extinction of one law. It is stateless apart from
// the law and safe for concurrent use.
type Corrector struct {
	law extinction.Law
}

// NewCorrector creates a corrector for law.
func NewCorrector(law extinction.Law) *Corrector {
	return &Corrector{law: law}
}

// Law returns the corrector's extinction law.
func (c *Corrector) Law() extinction.Law { return c.law }

// Correct is a one-shot convenience wrapper around NewCorrector(law).Correct.
func Correct(observed *spectrum.Spectrum, law extinction.Law, p extinction.Params, opts ...Option) (*Dereddened, error) {
	return NewCorrector(law).Correct(observed, p, opts...)
}

// CorrectFit corrects observed with the parameters and covariance of res.
func CorrectFit(observed *spectrum.Spectrum, law extinction.Law, res *fit.Result, opts ...Option) (*Dereddened, error) {
	return NewCorrector(law).CorrectFit(observed, res, opts...)
}

// CorrectFit corrects observed with the parameters and covariance of res.
// Options given after res override its covariance.
func (c *Corrector) CorrectFit(observed *spectrum.Spectrum, res *fit.Result, opts ...Option) (*Dereddened, error) {
	if res == nil {
		return nil, ErrNilInput
	}

	all := make([]Option, 0, len(opts)+1)
	if res.Covariance != nil {
		all = append(all, WithCovariance(res.Covariance, res.Free))
	}

	all = append(all, opts...)

	return c.Correct(observed, res.Params, all...)
}

// Correct multiplies every in-range sample by 10^(0.4 A(lambda; p)).
//
// Variance propagates as
//
//	v' = v g^2 + (f dg/dp)^T C (f dg/dp),  dg/dp = g 0.4 ln10 dA/dp
//
// where the second term needs a usable covariance C. The input is not
// modified.
//
//nolint:funlen
func (c *Corrector) Correct(observed *spectrum.Spectrum, p extinction.Params, opts ...Option) (*Dereddened, error) {
	if observed == nil || c == nil || c.law == nil {
		return nil, ErrNilInput
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	var cfg config
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if !numeric.IsFinite(cfg.redshift) || cfg.redshift <= -1 {
		return nil, fmt.Errorf("correct: %w: %v", spectrum.ErrInvalidRedshift, cfg.redshift)
	}

	cov, err := usableCovariance(cfg.cov, cfg.free)
	if err != nil {
		return nil, err
	}

	n := observed.Len()
	wave := observed.Wavelengths()
	flux := observed.Fluxes()
	variance := observed.Variances()
	unit := observed.Unit()

	out := &Dereddened{
		Wavelength:              wave,
		Flux:                    make([]float64, n),
		Variance:                make([]float64, n),
		Valid:                   observed.Mask(),
		LawRangeExceeded:        make([]bool, n),
		Unit:                    unit,
		Law:                     c.law.Name(),
		Params:                  p,
		Redshift:                cfg.redshift,
		ParamUncertaintyOmitted: cov == nil,
	}

	factor := make([]float64, n)
	dA := make([][]float64, n)

	for i, w := range wave {
		rest := unit.ToAngstrom(w) / (1 + cfg.redshift)

		a, err := c.law.Magnitude(rest, p)
		if err != nil {
			if errors.Is(err, extinction.ErrOutOfRange) {
				out.LawRangeExceeded[i] = true
				factor[i] = 1

				continue
			}

			return nil, fmt.Errorf("correct: evaluating %s at %v Å: %w", c.law.Name(), rest, err)
		}

		factor[i] = numeric.MagToFactor(a)

		if cov != nil {
			dA[i], err = partials(c.law, rest, p, cfg.free)
			if err != nil {
				return nil, fmt.Errorf("correct: %s gradient at %v Å: %w", c.law.Name(), rest, err)
			}
		}
	}

	vecmath.MulBlock(out.Flux, flux, factor)

	factorSq := make([]float64, n)
	vecmath.MulBlock(factorSq, factor, factor)
	vecmath.MulBlock(out.Variance, variance, factorSq)

	if cov == nil {
		return out, nil
	}

	k := len(cfg.free)
	d := mat.NewVecDense(k, nil)

	for i := range wave {
		if out.LawRangeExceeded[i] {
			continue
		}

		for j := range k {
			d.SetVec(j, dA[i][j])
		}

		s := flux[i] * factor[i] * numeric.MagScale
		out.Variance[i] += s * s * mat.Inner(d, cov, d)
	}

	return out, nil
}

// usableCovariance returns cov when it is present and finite, nil when it
// should be ignored, and an error when its size contradicts free.
func usableCovariance(cov mat.Symmetric, free []fit.Parameter) (mat.Symmetric, error) {
	if cov == nil {
		return nil, nil
	}

	k := cov.SymmetricDim()
	if k != len(free) {
		return nil, fmt.Errorf("%w: %dx%d for %d parameters", ErrCovarianceShape, k, k, len(free))
	}

	if k == 0 {
		return nil, nil
	}

	for i := range k {
		for j := i; j < k; j++ {
			if !numeric.IsFinite(cov.At(i, j)) {
				return nil, nil
			}
		}
	}

	return cov, nil
}

// partials returns dA/dq for every q in free. The normalization does not
// enter the corrected flux, so its partial is zero.
func partials(law extinction.Law, wavelength float64, p extinction.Params, free []fit.Parameter) ([]float64, error) {
	dE, dR, err := extinction.Gradient(law, wavelength, p)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(free))
	for j, q := range free {
		switch q {
		case fit.ParamEBV:
			out[j] = dE
		case fit.ParamRV:
			out[j] = dR
		}
	}

	return out, nil
}
