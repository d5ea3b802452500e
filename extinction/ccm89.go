package extinction

import "math"

// Validity of the CCM89 family in inverse microns.
const (
	ccmXMin = 0.3
	ccmXMax = 10.0
)

// CCM89 is the Cardelli, Clayton & Mathis (1989) Milky Way extinction curve,
// A(lambda)/A(V) = a(x) + b(x)/R_V with x = 1/lambda in inverse microns.
type CCM89 struct{}

// O94 is CCM89 with the O'Donnell (1994) optical coefficients.
type O94 struct{}

// Name implements Law.
func (CCM89) Name() string { return "ccm89" }

// Range implements Law.
func (CCM89) Range() (float64, float64) { return ccmRange() }

// Magnitude implements Law.
func (l CCM89) Magnitude(wavelength float64, p Params) (float64, error) {
	if err := checkRange(l, wavelength); err != nil {
		return 0, err
	}

	a, b := ccmAB(1e4/wavelength, ccmOptical)

	return p.EBV * (a*p.RV + b), nil
}

// Gradient implements Differentiable.
func (l CCM89) Gradient(wavelength float64, p Params) (float64, float64, error) {
	if err := checkRange(l, wavelength); err != nil {
		return 0, 0, err
	}

	a, b := ccmAB(1e4/wavelength, ccmOptical)

	return a*p.RV + b, p.EBV * a, nil
}

// Name implements Law.
func (O94) Name() string { return "o94" }

// Range implements Law.
func (O94) Range() (float64, float64) { return ccmRange() }

// Magnitude implements Law.
func (l O94) Magnitude(wavelength float64, p Params) (float64, error) {
	if err := checkRange(l, wavelength); err != nil {
		return 0, err
	}

	a, b := ccmAB(1e4/wavelength, o94Optical)

	return p.EBV * (a*p.RV + b), nil
}

// Gradient implements Differentiable.
func (l O94) Gradient(wavelength float64, p Params) (float64, float64, error) {
	if err := checkRange(l, wavelength); err != nil {
		return 0, 0, err
	}

	a, b := ccmAB(1e4/wavelength, o94Optical)

	return a*p.RV + b, p.EBV * a, nil
}

func ccmRange() (float64, float64) {
	return 1e4 / ccmXMax, 1e4 / ccmXMin
}

// Optical polynomials in y = x - 1.82, ascending powers.
var (
	ccmOptical = opticalCoeffs{
		a: []float64{1, 0.17699, -0.50447, -0.02427, 0.72085, 0.01979, -0.77530, 0.32999},
		b: []float64{0, 1.41338, 2.28305, 1.07233, -5.38434, -0.62251, 5.30260, -2.09002},
	}
	o94Optical = opticalCoeffs{
		a: []float64{1, 0.104, -0.609, 0.701, 1.137, -1.718, -0.827, 1.647, -0.505},
		b: []float64{0, 1.952, 2.908, -3.989, -7.985, 11.102, 5.491, -10.805, 3.347},
	}
)

type opticalCoeffs struct {
	a, b []float64
}

// ccmAB evaluates the piecewise a(x), b(x) of the CCM89 family.
// x must already be inside [ccmXMin, ccmXMax].
func ccmAB(x float64, optical opticalCoeffs) (float64, float64) {
	switch {
	case x < 1.1:
		xp := math.Pow(x, 1.61)
		return 0.574 * xp, -0.527 * xp
	case x < 3.3:
		y := x - 1.82
		return polyval(optical.a, y), polyval(optical.b, y)
	case x < 8:
		var fa, fb float64
		if x >= 5.9 {
			y := x - 5.9
			y2 := y * y
			fa = -0.04473*y2 - 0.009779*y2*y
			fb = 0.2130*y2 + 0.1207*y2*y
		}

		a := 1.752 - 0.316*x - 0.104/((x-4.67)*(x-4.67)+0.341) + fa
		b := -3.090 + 1.825*x + 1.206/((x-4.62)*(x-4.62)+0.263) + fb

		return a, b
	default:
		y := x - 8
		a := polyval([]float64{-1.073, -0.628, 0.137, -0.070}, y)
		b := polyval([]float64{13.670, 4.257, -0.420, 0.374}, y)

		return a, b
	}
}

// polyval evaluates c[0] + c[1]*x + ... by Horner's rule.
func polyval(c []float64, x float64) float64 {
	var acc float64
	for i := len(c) - 1; i >= 0; i-- {
		acc = acc*x + c[i]
	}

	return acc
}
