package align

import (
	"math"
	"sort"

	"github.com/cwbudde/algo-dust/internal/fftconv"
	"github.com/cwbudde/algo-dust/internal/numeric"
	"github.com/cwbudde/algo-dust/spectrum"
)

// side is a read-only view of one input spectrum used for interpolation.
type side struct {
	wave     []float64
	flux     []float64
	variance []float64
	ok       []bool // caller-valid, finite flux, finite positive variance
}

func sideOf(s *spectrum.Spectrum) *side {
	ok := make([]bool, s.Len())
	for i := range ok {
		ok[i] = s.Usable(i)
	}

	return &side{
		wave:     s.Wavelengths(),
		flux:     s.Fluxes(),
		variance: s.Variances(),
		ok:       ok,
	}
}

func (s *side) usable(i int) bool { return s.ok[i] }

// smooth replaces flux and variance with their Gaussian-smoothed versions.
// Unusable samples enter with zero weight and stay flagged unusable.
func (s *side) smooth(sigma float64) error {
	flux := make([]float64, len(s.flux))
	variance := make([]float64, len(s.variance))
	weights := make([]float64, len(s.flux))

	for i := range flux {
		if s.ok[i] {
			flux[i] = s.flux[i]
			variance[i] = s.variance[i]
			weights[i] = 1
		}
	}

	sf, sv, err := fftconv.Smooth(flux, variance, weights, sigma)
	if err != nil {
		return err
	}

	for i := range s.ok {
		s.ok[i] = s.ok[i] && numeric.IsFinite(sf[i]) && numeric.IsFinite(sv[i]) && sv[i] > 0
	}

	s.flux, s.variance = sf, sv

	return nil
}

// sampleAt linearly interpolates the side at wavelength w.
// covered is false when w lies outside the sampled range; ok is false when
// the point is uncovered or either bracketing sample is unusable.
// Variance of (1-t)*a + t*b is (1-t)^2 va + t^2 vb.
func (s *side) sampleAt(w float64) (flux, variance float64, ok, covered bool) {
	n := len(s.wave)
	idx := sort.SearchFloat64s(s.wave, w)

	if idx < n && s.wave[idx] == w {
		return s.flux[idx], s.variance[idx], s.usable(idx), true
	}

	if idx == 0 || idx == n {
		return math.NaN(), math.NaN(), false, false
	}

	i0, i1 := idx-1, idx
	t := (w - s.wave[i0]) / (s.wave[i1] - s.wave[i0])

	flux = lerp(s.flux[i0], s.flux[i1], t)
	variance = (1-t)*(1-t)*s.variance[i0] + t*t*s.variance[i1]
	ok = s.usable(i0) && s.usable(i1)

	return flux, variance, ok, true
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}
