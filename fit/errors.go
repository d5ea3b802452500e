package fit

import (
	"errors"
	"fmt"
)

var (
	// ErrNilInput indicates a nil aligned pair or law.
	ErrNilInput = errors.New("fit: nil aligned pair or extinction law")
	// ErrNonFiniteInitial indicates a NaN or Inf starting guess.
	ErrNonFiniteInitial = errors.New("fit: non-finite initial guess")
	// ErrInvalidConfig indicates inconsistent bounds or settings.
	ErrInvalidConfig = errors.New("fit: invalid config")
	// ErrNotDifferentiable is returned for JacobianAnalytic with a law that
	// has no analytic gradient.
	ErrNotDifferentiable = errors.New("fit: law does not provide analytic derivatives")
	// ErrTooFewPoints is matched by every *TooFewPointsError.
	ErrTooFewPoints = errors.New("fit: too few valid points")
)

// TooFewPointsError reports that fewer than free-parameters+1 residual
// points survived exclusions.
type TooFewPointsError struct {
	Valid    int
	Required int
}

func (e *TooFewPointsError) Error() string {
	return fmt.Sprintf("fit: too few valid points: have %d, need %d", e.Valid, e.Required)
}

func (e *TooFewPointsError) Is(target error) bool { return target == ErrTooFewPoints }
