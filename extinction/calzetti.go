package extinction

// Calzetti00 is the Calzetti et al. (2000) starburst attenuation curve,
// A(lambda) = E(B-V) * k(lambda) with k = k'(lambda) + R_V. The
// published R_V is 4.05; the fitter may free it like any other law.
type Calzetti00 struct{}

// Name implements Law.
func (Calzetti00) Name() string { return "calzetti00" }

// Range implements Law: 0.12 to 2.2 microns.
func (Calzetti00) Range() (float64, float64) { return 1200, 22000 }

// Magnitude implements Law.
func (l Calzetti00) Magnitude(wavelength float64, p Params) (float64, error) {
	if err := checkRange(l, wavelength); err != nil {
		return 0, err
	}

	return p.EBV * (calzettiK(wavelength) + p.RV), nil
}

// Gradient implements Differentiable.
func (l Calzetti00) Gradient(wavelength float64, p Params) (float64, float64, error) {
	if err := checkRange(l, wavelength); err != nil {
		return 0, 0, err
	}

	return calzettiK(wavelength) + p.RV, p.EBV, nil
}

// calzettiK returns k'(lambda) = k(lambda) - R_V.
func calzettiK(wavelength float64) float64 {
	inv := 1e4 / wavelength // inverse microns
	if wavelength >= 6300 {
		return 2.659 * (-1.857 + 1.040*inv)
	}

	return 2.659 * polyval([]float64{-2.156, 1.509, -0.198, 0.011}, inv)
}
