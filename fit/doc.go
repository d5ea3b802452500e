// Package fit estimates dust reddening parameters from an aligned
// observed/template spectrum pair.
//
// The model compares the observed-to-template flux ratio with an extinction
// law in log space, so the problem stays close to linear in E(B-V):
//
//	ln(obs/tmpl) = -0.4 ln10 A(lambda; E(B-V), R_V) + ln(scale)
//
// Each point is weighted by the combined relative uncertainty of both
// fluxes. Points with a non-positive flux or outside the law's range are
// excluded and counted in the [Result].
//
// # Usage
//
//	res, err := fit.Fit(pair, extinction.CCM89{}, extinction.DefaultParams())
//	res, err := fit.Fit(pair, law, guess, fit.WithFixedRV(3.1))
//
// For many fits with the same settings, build a [Fitter] once:
//
//	f := fit.NewFitter(fit.NewConfig(fit.WithMaxIterations(500)))
//	res, err := f.Fit(pair, law, guess)
//
// # Solver
//
// [Fitter] runs a Levenberg-Marquardt iteration with Marquardt diagonal
// damping and projects every step onto the box constraints: E(B-V) in
// [0, EBVMax] and R_V in [RVMin, RVMax]. A negative unconstrained optimum
// therefore ends at E(B-V) = 0 and is reported in [Result.AtBound].
//
// Only structurally invalid input returns an error. A fit that hits the
// iteration cap returns its best iterate with Converged = false, and a
// rank-deficient Jacobian yields an all-NaN covariance with an explanatory
// Message.
package fit
