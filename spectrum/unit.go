package spectrum

import (
	"fmt"
	"strings"
)

// Unit tags the wavelength unit of a spectrum. The zero value is invalid so
// that callers must state the unit explicitly.
type Unit int

const (
	UnitUnknown Unit = iota
	UnitAngstrom
	UnitNanometer
	UnitMicron
)

// String returns the short unit name.
func (u Unit) String() string {
	switch u {
	case UnitAngstrom:
		return "angstrom"
	case UnitNanometer:
		return "nm"
	case UnitMicron:
		return "micron"
	default:
		return "unknown"
	}
}

// ToAngstrom converts a wavelength expressed in u to angstroms.
// Extinction laws are evaluated in angstroms; this is the only unit
// conversion in the module and it never mixes two spectra.
func (u Unit) ToAngstrom(wavelength float64) float64 {
	switch u {
	case UnitNanometer:
		return wavelength * 10
	case UnitMicron:
		return wavelength * 1e4
	default:
		return wavelength
	}
}

// Valid reports whether u is one of the known units.
func (u Unit) Valid() bool {
	return u >= UnitAngstrom && u <= UnitMicron
}

// ParseUnit parses a unit name as accepted on the command line.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "aa", "angstrom", "angstroms", "å":
		return UnitAngstrom, nil
	case "nm", "nanometer", "nanometers":
		return UnitNanometer, nil
	case "um", "µm", "micron", "microns", "micrometer":
		return UnitMicron, nil
	default:
		return UnitUnknown, fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
}
