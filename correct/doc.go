// Package correct removes dust extinction from an observed spectrum.
//
// Every sample inside the law's range is multiplied by 10^(0.4 A(lambda)),
// on the observed grid and at its native resolution. Samples outside the
// range pass through unchanged and are flagged in
// [Dereddened.LawRangeExceeded].
//
// When the fit covariance is supplied, either with [WithCovariance] or
// through [CorrectFit], the parameter uncertainty is propagated to first
// order on top of the measurement noise. Without it the corrected variance
// holds only the scaled measurement noise and
// [Dereddened.ParamUncertaintyOmitted] is set.
package correct
