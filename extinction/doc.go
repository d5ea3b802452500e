// Package extinction provides the dust extinction-curve capability used by
// the fitter and the corrector.
//
// A [Law] maps a wavelength in angstroms and [Params] (E(B-V), R_V) to an
// extinction in magnitudes. Evaluation outside the law's validity range
// returns an [*OutOfRangeError]; it is never clamped, so callers can mask
// the sample instead.
//
// Available curves:
//
//   - [CCM89]:      Cardelli, Clayton & Mathis 1989, 1000-33333 Å
//   - [O94]:        CCM89 with O'Donnell 1994 optical coefficients
//   - [Calzetti00]: starburst attenuation, 1200-22000 Å
//
// All three also implement [Differentiable], so fits and error propagation
// use analytic partials. Custom laws only need to satisfy [Law]; gradients
// then fall back to central differences.
package extinction
