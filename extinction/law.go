package extinction

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrOutOfRange is matched by every *OutOfRangeError.
	ErrOutOfRange = errors.New("extinction: wavelength outside law validity range")
	// ErrInvalidParams indicates non-finite extinction parameters.
	ErrInvalidParams = errors.New("extinction: parameters must be finite")
	// ErrUnknownLaw is returned by Lookup for unregistered names.
	ErrUnknownLaw = errors.New("extinction: unknown law")
)

// Params are the free parameters of a one-sightline extinction curve.
type Params struct {
	EBV float64 // color excess E(B-V), magnitudes
	RV  float64 // total-to-selective extinction ratio A(V)/E(B-V)
}

// DefaultParams returns the starting point used when the caller has no guess.
func DefaultParams() Params {
	return Params{EBV: 0.1, RV: 3.1}
}

// Validate reports ErrInvalidParams for NaN or Inf fields.
func (p Params) Validate() error {
	if math.IsNaN(p.EBV) || math.IsInf(p.EBV, 0) || math.IsNaN(p.RV) || math.IsInf(p.RV, 0) {
		return fmt.Errorf("%w: E(B-V)=%v R_V=%v", ErrInvalidParams, p.EBV, p.RV)
	}

	return nil
}

// AV returns the V-band extinction R_V * E(B-V).
func (p Params) AV() float64 { return p.RV * p.EBV }

// Law maps a wavelength in angstroms to extinction in magnitudes.
// Implementations are pure and safe for concurrent use.
type Law interface {
	Name() string
	// Range returns the validity interval in angstroms (inclusive).
	Range() (minAngstrom, maxAngstrom float64)
	// Magnitude returns A(lambda) for the given parameters, or an
	// *OutOfRangeError when lambda falls outside Range.
	Magnitude(wavelength float64, p Params) (float64, error)
}

// Differentiable is implemented by laws that provide analytic partial
// derivatives of the extinction magnitude.
type Differentiable interface {
	Law
	Gradient(wavelength float64, p Params) (dEBV, dRV float64, err error)
}

// OutOfRangeError is returned when a law is evaluated outside its range.
type OutOfRangeError struct {
	Law        string
	Wavelength float64
	Min, Max   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("extinction: %s: wavelength %.6g Å outside [%.6g, %.6g]", e.Law, e.Wavelength, e.Min, e.Max)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }

// InRange reports whether wavelength lies within the law's validity range.
func InRange(law Law, wavelength float64) bool {
	lo, hi := law.Range()
	return wavelength >= lo && wavelength <= hi
}

func checkRange(law Law, wavelength float64) error {
	if InRange(law, wavelength) {
		return nil
	}

	lo, hi := law.Range()

	return &OutOfRangeError{Law: law.Name(), Wavelength: wavelength, Min: lo, Max: hi}
}

// Transmission returns the fraction of light transmitted, 10^(-0.4 A).
func Transmission(law Law, wavelength float64, p Params) (float64, error) {
	a, err := law.Magnitude(wavelength, p)
	if err != nil {
		return 0, err
	}

	return math.Pow(10, -0.4*a), nil
}

// Gradient returns dA/dE(B-V) and dA/dR_V. Analytic partials are used when
// law implements Differentiable; otherwise central differences.
func Gradient(law Law, wavelength float64, p Params) (dEBV, dRV float64, err error) {
	if d, ok := law.(Differentiable); ok {
		return d.Gradient(wavelength, p)
	}

	return NumericGradient(law, wavelength, p)
}

// NumericGradient estimates the partial derivatives by central differences.
func NumericGradient(law Law, wavelength float64, p Params) (dEBV, dRV float64, err error) {
	hE := stepFor(p.EBV)
	hR := stepFor(p.RV)

	ePlus, err := law.Magnitude(wavelength, Params{EBV: p.EBV + hE, RV: p.RV})
	if err != nil {
		return 0, 0, err
	}

	eMinus, err := law.Magnitude(wavelength, Params{EBV: p.EBV - hE, RV: p.RV})
	if err != nil {
		return 0, 0, err
	}

	rPlus, err := law.Magnitude(wavelength, Params{EBV: p.EBV, RV: p.RV + hR})
	if err != nil {
		return 0, 0, err
	}

	rMinus, err := law.Magnitude(wavelength, Params{EBV: p.EBV, RV: p.RV - hR})
	if err != nil {
		return 0, 0, err
	}

	return (ePlus - eMinus) / (2 * hE), (rPlus - rMinus) / (2 * hR), nil
}

func stepFor(x float64) float64 {
	return 1e-6 * math.Max(math.Abs(x), 1e-3)
}
