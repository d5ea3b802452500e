package testutil

import (
	"math"
	"math/rand"
)

// LinearGrid returns n evenly spaced wavelengths from lo to hi inclusive.
func LinearGrid(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + step*float64(i)
	}
	out[n-1] = hi
	return out
}

// PowerLaw returns amplitude * (lambda/pivot)^index on the given grid, the
// usual shape of a quasar continuum.
func PowerLaw(wavelength []float64, amplitude, pivot, index float64) []float64 {
	out := make([]float64, len(wavelength))
	for i, w := range wavelength {
		out[i] = amplitude * math.Pow(w/pivot, index)
	}
	return out
}

// AddEmissionLine adds a Gaussian line of the given peak and width in place.
func AddEmissionLine(wavelength, flux []float64, center, sigma, peak float64) {
	for i, w := range wavelength {
		x := (w - center) / sigma
		flux[i] += peak * math.Exp(-0.5*x*x)
	}
}

// FractionalVariance returns (frac * flux)^2 per sample.
func FractionalVariance(flux []float64, frac float64) []float64 {
	out := make([]float64, len(flux))
	for i, f := range flux {
		out[i] = (frac * f) * (frac * f)
	}
	return out
}

// DeterministicNoise generates uniform noise in [-amplitude, amplitude) with
// a fixed seed for reproducibility.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// GaussianNoise returns standard normal deviates scaled by sigma[i].
func GaussianNoise(seed int64, sigma []float64) []float64 {
	out := make([]float64, len(sigma))
	rng := rand.New(rand.NewSource(seed))
	for i, s := range sigma {
		out[i] = rng.NormFloat64() * s
	}
	return out
}

// DC generates a constant-valued slice.
func DC(value float64, length int) []float64 {
	out := make([]float64, length)
	for i := range out {
		out[i] = value
	}
	return out
}
