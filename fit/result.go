package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-dust/extinction"
	"github.com/cwbudde/algo-dust/internal/numeric"
)

// Parameter identifies one fitted quantity.
type Parameter int

const (
	ParamEBV Parameter = iota
	ParamRV
	// ParamScale is the natural-log flux normalization (see Config.FitScale).
	ParamScale
)

// String returns the parameter name.
func (p Parameter) String() string {
	switch p {
	case ParamEBV:
		return "E(B-V)"
	case ParamRV:
		return "R_V"
	case ParamScale:
		return "ln(scale)"
	default:
		return fmt.Sprintf("Parameter(%d)", int(p))
	}
}

// ResidualPoint is one normalized residual at the best-fit parameters.
type ResidualPoint struct {
	Wavelength float64
	Residual   float64
}

// Result is the immutable outcome of one fit.
type Result struct {
	Params extinction.Params
	// Scale is the fitted multiplicative normalization, 1 unless FitScale.
	Scale float64
	// Free lists the fitted parameters in covariance row order.
	Free []Parameter
	// Covariance of the free parameters, scaled by the reduced chi-square.
	// All entries are NaN when the Jacobian was rank-deficient.
	Covariance *mat.SymDense

	ChiSquare        float64
	ReducedChiSquare float64
	NValid           int
	Iterations       int
	Converged        bool
	Message          string

	// AtBound lists free parameters that finished on a box constraint.
	AtBound []Parameter

	ExcludedNonPositive int
	ExcludedOutOfRange  int
	Residuals           []ResidualPoint
}

// Index returns the covariance row of p, or -1 if p was not fitted.
func (r *Result) Index(p Parameter) int {
	for i, q := range r.Free {
		if q == p {
			return i
		}
	}

	return -1
}

// CovarianceAvailable reports whether the covariance is finite.
func (r *Result) CovarianceAvailable() bool {
	if r.Covariance == nil {
		return false
	}

	n := r.Covariance.SymmetricDim()
	for i := range n {
		for j := i; j < n; j++ {
			if !numeric.IsFinite(r.Covariance.At(i, j)) {
				return false
			}
		}
	}

	return true
}

// Sigma returns the 1-sigma uncertainty of p, NaN when p is fixed or the
// covariance is unavailable. For ParamScale it is the error of ln(scale).
func (r *Result) Sigma(p Parameter) float64 {
	i := r.Index(p)
	if i < 0 || r.Covariance == nil {
		return math.NaN()
	}

	v := r.Covariance.At(i, i)
	if !(v >= 0) {
		return math.NaN()
	}

	return math.Sqrt(v)
}

// IsAtBound reports whether p finished on a box constraint.
func (r *Result) IsAtBound(p Parameter) bool {
	for _, q := range r.AtBound {
		if q == p {
			return true
		}
	}

	return false
}

func nanCovariance(n int) *mat.SymDense {
	data := make([]float64, n*n)
	for i := range data {
		data[i] = math.NaN()
	}

	return mat.NewSymDense(n, data)
}
