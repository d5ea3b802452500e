package fit

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-dust/align"
	"github.com/cwbudde/algo-dust/extinction"
	"github.com/cwbudde/algo-dust/internal/numeric"
)

// SigmaFloor is the smallest log-ratio uncertainty used as a divisor.
const SigmaFloor = 1e-12

// ResidualModel compares the observed/template flux ratio of an aligned pair
// with the transmission of an extinction law, in log space:
//
//	r_i = (ln(obs_i/tmpl_i) - ln T(lambda_i; p) - lnScale) / sigma_i
//
// with ln T = -0.4 ln10 A(lambda; p) and sigma_i^2 = v_obs/obs^2 + v_tmpl/tmpl^2.
//
// Only valid aligned samples with positive fluxes inside the law's range
// contribute; the rest are counted and skipped.
type ResidualModel struct {
	law        extinction.Law
	wavelength []float64 // native grid unit, for reporting
	angstrom   []float64 // law evaluation wavelengths
	logRatio   []float64
	sigma      []float64

	excludedNonPositive int
	excludedOutOfRange  int
}

// NewResidualModel precomputes the log ratio and its uncertainty for every
// usable sample of pair. Out-of-range law evaluations exclude the sample;
// any other law error is returned.
func NewResidualModel(pair *align.AlignedPair, law extinction.Law) (*ResidualModel, error) {
	if pair == nil || law == nil {
		return nil, ErrNilInput
	}

	m := &ResidualModel{law: law}
	probe := extinction.DefaultParams()

	for i, w := range pair.Wavelength {
		if !pair.Valid[i] {
			continue
		}

		obs, tmpl := pair.ObservedFlux[i], pair.TemplateFlux[i]
		if obs <= 0 || tmpl <= 0 {
			m.excludedNonPositive++
			continue
		}

		wa := pair.Unit.ToAngstrom(w)
		if _, err := law.Magnitude(wa, probe); err != nil {
			if errors.Is(err, extinction.ErrOutOfRange) {
				m.excludedOutOfRange++
				continue
			}

			return nil, fmt.Errorf("fit: evaluating %s at %v: %w", law.Name(), wa, err)
		}

		relObs := pair.ObservedVariance[i] / (obs * obs)
		relTmpl := pair.TemplateVariance[i] / (tmpl * tmpl)

		m.wavelength = append(m.wavelength, w)
		m.angstrom = append(m.angstrom, wa)
		m.logRatio = append(m.logRatio, math.Log(obs/tmpl))
		m.sigma = append(m.sigma, math.Max(math.Sqrt(relObs+relTmpl), SigmaFloor))
	}

	return m, nil
}

// Len returns the number of residual points.
func (m *ResidualModel) Len() int { return len(m.logRatio) }

// Wavelengths returns the grid wavelengths of the residual points.
func (m *ResidualModel) Wavelengths() []float64 { return append([]float64(nil), m.wavelength...) }

// ExcludedNonPositive returns how many valid samples had a non-positive flux.
func (m *ResidualModel) ExcludedNonPositive() int { return m.excludedNonPositive }

// ExcludedOutOfRange returns how many valid samples fell outside the law range.
func (m *ResidualModel) ExcludedOutOfRange() int { return m.excludedOutOfRange }

// Residuals returns one normalized residual per point for p, no scale.
func (m *ResidualModel) Residuals(p extinction.Params) ([]float64, error) {
	out := make([]float64, m.Len())
	if err := m.residualsTo(out, p, 0); err != nil {
		return nil, err
	}

	return out, nil
}

// ResidualsScaled is Residuals with a log-normalization offset.
func (m *ResidualModel) ResidualsScaled(p extinction.Params, lnScale float64) ([]float64, error) {
	out := make([]float64, m.Len())
	if err := m.residualsTo(out, p, lnScale); err != nil {
		return nil, err
	}

	return out, nil
}

func (m *ResidualModel) residualsTo(dst []float64, p extinction.Params, lnScale float64) error {
	for i, w := range m.angstrom {
		a, err := m.law.Magnitude(w, p)
		if err != nil {
			return err
		}

		dst[i] = (m.logRatio[i] + numeric.MagScale*a - lnScale) / m.sigma[i]
	}

	return nil
}

// cost returns the sum of squared residuals.
func cost(r []float64) float64 {
	var s float64
	for _, v := range r {
		s += v * v
	}

	return s
}

// initialScale returns the inverse-variance weighted mean of the log offset
// between data and model at p, the least-squares scale for fixed p.
func (m *ResidualModel) initialScale(p extinction.Params) (float64, error) {
	var num, den float64

	for i, w := range m.angstrom {
		a, err := m.law.Magnitude(w, p)
		if err != nil {
			return 0, err
		}

		wt := 1 / (m.sigma[i] * m.sigma[i])
		num += wt * (m.logRatio[i] + numeric.MagScale*a)
		den += wt
	}

	if den == 0 {
		return 0, nil
	}

	return num / den, nil
}
