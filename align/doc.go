// Package align resamples an observed spectrum and a template spectrum onto
// one shared wavelength grid so their flux ratio can be fitted.
//
// Grid policies:
//
//   - [GridObserved]:     template interpolated onto the observed grid (default)
//   - [GridTemplate]:     observed interpolated onto the template grid
//   - [GridIntersection]: union of both grids inside the common range
//
// Interpolation is linear in wavelength. The variance of an interpolated
// point is (1-t)^2 v0 + t^2 v1 from its two bracketing samples. Points
// outside a spectrum's coverage are never extrapolated; they are marked
// invalid together with any point whose flux is non-finite, whose variance
// is not positive, or which the caller masked.
//
// Alignment fails with [*InsufficientOverlapError] when fewer than
// [WithMinOverlap] (default 5) valid samples remain.
//
// [WithTemplateSmoothing] optionally degrades the template with a Gaussian
// kernel (FFT convolution) before interpolation, for observations taken at
// lower resolution than the template.
package align
