package spectrum

import (
	"errors"
	"fmt"
)

var (
	// ErrLengthMismatch indicates parallel slices of different lengths.
	ErrLengthMismatch = errors.New("spectrum: array length mismatch")
	// ErrTooShort indicates fewer than two samples.
	ErrTooShort = errors.New("spectrum: need at least 2 samples")
	// ErrNotIncreasing indicates wavelengths that are not strictly increasing.
	ErrNotIncreasing = errors.New("spectrum: wavelengths must be finite and strictly increasing")
	// ErrNegativeVariance indicates a flux variance below zero.
	ErrNegativeVariance = errors.New("spectrum: negative flux variance")
	// ErrUnknownUnit indicates a missing or unrecognized wavelength unit.
	ErrUnknownUnit = errors.New("spectrum: unknown wavelength unit")
	// ErrInvalidRedshift indicates z <= -1 or a non-finite redshift.
	ErrInvalidRedshift = errors.New("spectrum: invalid redshift")
	// ErrUnitMismatch is matched by every *UnitMismatchError.
	ErrUnitMismatch = errors.New("spectrum: unit mismatch")
)

// MalformedError reports a structural problem found while building a
// spectrum. Reason is one of the sentinel errors above.
type MalformedError struct {
	Reason error
	Index  int // offending sample, -1 when not applicable
}

func (e *MalformedError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%v (sample %d)", e.Reason, e.Index)
	}

	return e.Reason.Error()
}

func (e *MalformedError) Unwrap() error { return e.Reason }

// UnitMismatchError is returned when two spectra that must share a grid unit
// are tagged differently. No conversion is attempted.
type UnitMismatchError struct {
	Observed Unit
	Template Unit
}

func (e *UnitMismatchError) Error() string {
	return fmt.Sprintf("spectrum: unit mismatch: observed in %s, template in %s", e.Observed, e.Template)
}

func (e *UnitMismatchError) Is(target error) bool { return target == ErrUnitMismatch }

func malformed(reason error, index int) error {
	return &MalformedError{Reason: reason, Index: index}
}
