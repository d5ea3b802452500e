// Package numeric holds small floating-point helpers shared by the fitting
// packages.
package numeric

import "math"

// Clamp limits value to the inclusive range [lo, hi].
func Clamp(value, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}

	if value < lo {
		return lo
	}

	if value > hi {
		return hi
	}

	return value
}

// IsFinite reports whether x is neither NaN nor infinite.
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// MagToFactor converts an extinction in magnitudes to the multiplicative
// flux correction 10^(0.4 A).
func MagToFactor(mag float64) float64 {
	return math.Pow(10, 0.4*mag)
}

// MagScale is d(ln 10^(0.4 A))/dA = 0.4 ln 10.
const MagScale = 0.4 * math.Ln10

// NextPowerOf2 returns the smallest power of two >= n (1 for n <= 1).
func NextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}

	return p
}
