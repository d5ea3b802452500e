// Package spectrum defines the immutable flux-versus-wavelength container
// consumed by the alignment, fitting and correction packages.
//
// A [Spectrum] is stored as parallel slices (wavelength, flux, variance,
// validity) tagged with a wavelength [Unit]. Construction validates the
// structural invariants once:
//
//   - all slices have equal length, at least two samples
//   - wavelengths are finite and strictly increasing
//   - the unit tag is set explicitly
//
// Nothing in this module mutates a Spectrum after construction; every
// transformation (rest-frame shift, correction) returns a new value.
//
// # Usage
//
//	obs, err := spectrum.New(wave, flux, variance, spectrum.UnitAngstrom)
//	rest, err := obs.RestFrame(2.1)
package spectrum
