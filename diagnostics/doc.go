// Package diagnostics summarizes the quality of a de-reddening run: point
// counts per stage, fit statistics, parameter uncertainties, the residual
// spectrum and a list of soft warning flags.
package diagnostics
