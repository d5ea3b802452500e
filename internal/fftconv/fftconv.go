// Package fftconv provides FFT-based linear convolution and the Gaussian
// resolution-matching kernel used to degrade a template spectrum.
package fftconv

import (
	"errors"
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-dust/internal/numeric"
)

var (
	// ErrEmptyInput indicates an empty signal.
	ErrEmptyInput = errors.New("fftconv: empty input")
	// ErrEmptyKernel indicates an empty kernel.
	ErrEmptyKernel = errors.New("fftconv: empty kernel")
	// ErrInvalidSigma indicates a non-positive or non-finite kernel width.
	ErrInvalidSigma = errors.New("fftconv: sigma must be positive and finite")
)

// Convolve returns the full linear convolution of signal and kernel,
// length len(signal)+len(kernel)-1.
func Convolve(signal, kernel []float64) ([]float64, error) {
	if len(signal) == 0 {
		return nil, ErrEmptyInput
	}

	if len(kernel) == 0 {
		return nil, ErrEmptyKernel
	}

	n := len(signal) + len(kernel) - 1
	fftSize := numeric.NextPowerOf2(n)

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("fftconv: failed to create FFT plan: %w", err)
	}

	sigPadded := make([]complex128, fftSize)
	for i, v := range signal {
		sigPadded[i] = complex(v, 0)
	}

	kerPadded := make([]complex128, fftSize)
	for i, v := range kernel {
		kerPadded[i] = complex(v, 0)
	}

	sigFreq := make([]complex128, fftSize)
	if err := plan.Forward(sigFreq, sigPadded); err != nil {
		return nil, fmt.Errorf("fftconv: forward FFT failed: %w", err)
	}

	kerFreq := make([]complex128, fftSize)
	if err := plan.Forward(kerFreq, kerPadded); err != nil {
		return nil, fmt.Errorf("fftconv: forward FFT failed: %w", err)
	}

	for i := range sigFreq {
		sigFreq[i] *= kerFreq[i]
	}

	resultTime := make([]complex128, fftSize)
	if err := plan.Inverse(resultTime, sigFreq); err != nil {
		return nil, fmt.Errorf("fftconv: inverse FFT failed: %w", err)
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = real(resultTime[i])
	}

	return out, nil
}

// Gaussian returns a unit-peak Gaussian kernel with the given sigma in
// samples, truncated at +-4 sigma. Its length is always odd.
func Gaussian(sigma float64) ([]float64, error) {
	if !(sigma > 0) || math.IsInf(sigma, 0) {
		return nil, ErrInvalidSigma
	}

	half := int(math.Ceil(4 * sigma))
	kernel := make([]float64, 2*half+1)

	for i := range kernel {
		x := float64(i-half) / sigma
		kernel[i] = math.Exp(-0.5 * x * x)
	}

	return kernel, nil
}

// Smooth convolves values with a Gaussian of width sigma samples and returns
// the result trimmed to len(values). Each output is the kernel-weighted mean
// of its neighbours, normalized by the kernel mass that actually overlapped
// the input, so edges are not darkened.
//
// weights (nil = all ones) lets callers drop masked samples with weight 0.
// The returned variance is that of the weighted mean:
// sum(k^2 w^2 v) / (sum k w)^2. variances may be nil. Outputs with no
// weighted support are NaN.
func Smooth(values, variances, weights []float64, sigma float64) ([]float64, []float64, error) {
	kernel, err := Gaussian(sigma)
	if err != nil {
		return nil, nil, err
	}

	if len(values) == 0 {
		return nil, nil, ErrEmptyInput
	}

	if weights == nil {
		weights = make([]float64, len(values))
		for i := range weights {
			weights[i] = 1
		}
	}

	half := len(kernel) / 2

	weighted := make([]float64, len(values))
	vecmath.MulBlock(weighted, values, weights)

	num, err := Convolve(weighted, kernel)
	if err != nil {
		return nil, nil, err
	}

	mass, err := Convolve(weights, kernel)
	if err != nil {
		return nil, nil, err
	}

	smoothed := make([]float64, len(values))
	for i := range smoothed {
		m := mass[i+half]
		if m <= 1e-12 {
			smoothed[i] = math.NaN()
			continue
		}

		smoothed[i] = num[i+half] / m
	}

	if variances == nil {
		return smoothed, nil, nil
	}

	kernel2 := make([]float64, len(kernel))
	vecmath.MulBlock(kernel2, kernel, kernel)

	w2v := make([]float64, len(values))
	vecmath.MulBlock(w2v, weights, weights)
	vecmath.MulBlockInPlace(w2v, variances)

	vnum, err := Convolve(w2v, kernel2)
	if err != nil {
		return nil, nil, err
	}

	smoothedVar := make([]float64, len(values))
	for i := range smoothedVar {
		m := mass[i+half]
		if m <= 1e-12 {
			smoothedVar[i] = math.NaN()
			continue
		}

		smoothedVar[i] = math.Max(vnum[i+half], 0) / (m * m)
	}

	return smoothed, smoothedVar, nil
}
