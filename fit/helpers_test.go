package fit

import (
	"testing"

	"github.com/cwbudde/algo-dust/align"
	"github.com/cwbudde/algo-dust/extinction"
	"github.com/cwbudde/algo-dust/internal/testutil"
	"github.com/cwbudde/algo-dust/spectrum"
)

type synth struct {
	lo, hi    float64
	n         int
	law       extinction.Law
	params    extinction.Params
	scale     float64
	noiseFrac float64 // realized and declared observed noise
	seed      int64
}

func defaultSynth() synth {
	return synth{
		lo:     1500,
		hi:     9000,
		n:      600,
		law:    extinction.CCM89{},
		params: extinction.Params{EBV: 0.3, RV: 3.1},
		scale:  1,
	}
}

// quasarTemplate is a power-law continuum with a few broad lines.
func quasarTemplate(wave []float64) []float64 {
	flux := testutil.PowerLaw(wave, 10, 3000, -1.5)
	testutil.AddEmissionLine(wave, flux, 1549, 20, 8) // C IV
	testutil.AddEmissionLine(wave, flux, 2798, 30, 4) // Mg II
	testutil.AddEmissionLine(wave, flux, 6563, 40, 6) // H alpha
	return flux
}

// build returns observed and template spectra where observed is the
// template reddened by s.params and scaled by s.scale.
func (s synth) build(t *testing.T) (*spectrum.Spectrum, *spectrum.Spectrum) {
	t.Helper()

	wave := testutil.LinearGrid(s.lo, s.hi, s.n)
	tflux := quasarTemplate(wave)
	tvar := testutil.FractionalVariance(tflux, 1e-4)

	oflux := make([]float64, s.n)
	for i, w := range wave {
		tr, err := extinction.Transmission(s.law, w, s.params)
		if err != nil {
			t.Fatal(err)
		}
		oflux[i] = s.scale * tflux[i] * tr
	}

	frac := s.noiseFrac
	if frac == 0 {
		frac = 0.01 // declared only
	}
	ovar := testutil.FractionalVariance(oflux, frac)

	if s.noiseFrac > 0 {
		sigma := make([]float64, s.n)
		for i, f := range oflux {
			sigma[i] = s.noiseFrac * f
		}
		noise := testutil.GaussianNoise(s.seed, sigma)
		for i := range oflux {
			oflux[i] += noise[i]
		}
	}

	obs, err := spectrum.New(wave, oflux, ovar, spectrum.UnitAngstrom)
	if err != nil {
		t.Fatal(err)
	}

	tmpl, err := spectrum.New(wave, tflux, tvar, spectrum.UnitAngstrom)
	if err != nil {
		t.Fatal(err)
	}

	return obs, tmpl
}

func (s synth) pair(t *testing.T) *align.AlignedPair {
	t.Helper()

	obs, tmpl := s.build(t)

	pair, err := align.Align(obs, tmpl)
	if err != nil {
		t.Fatal(err)
	}

	return pair
}

// hiddenGradient wraps a law without exposing extinction.Differentiable.
type hiddenGradient struct {
	extinction.Law
}
