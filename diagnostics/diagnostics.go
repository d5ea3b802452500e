package diagnostics

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/cwbudde/algo-dust/align"
	"github.com/cwbudde/algo-dust/correct"
	"github.com/cwbudde/algo-dust/fit"
)

// PoorFitThreshold is the reduced chi-square above which FlagPoorFit is set.
const PoorFitThreshold = 10.0

// Flag is a soft warning. Flags never indicate failure on their own.
type Flag int

const (
	FlagNotConverged Flag = iota
	FlagCovarianceUnavailable
	FlagNonPositiveFlux
	FlagFitOutOfRange
	FlagCorrectionOutOfRange
	FlagUncertaintyOmitted
	FlagParameterAtBound
	FlagPoorFit
)

var flagNames = [...]string{
	FlagNotConverged:          "not-converged",
	FlagCovarianceUnavailable: "covariance-unavailable",
	FlagNonPositiveFlux:       "non-positive-flux",
	FlagFitOutOfRange:         "fit-out-of-range",
	FlagCorrectionOutOfRange:  "correction-out-of-range",
	FlagUncertaintyOmitted:    "uncertainty-omitted",
	FlagParameterAtBound:      "parameter-at-bound",
	FlagPoorFit:               "poor-fit",
}

func (f Flag) String() string {
	if f >= 0 && int(f) < len(flagNames) {
		return flagNames[f]
	}

	return fmt.Sprintf("Flag(%d)", int(f))
}

// Estimate is one parameter value with its 1-sigma uncertainty.
// Sigma is NaN for fixed parameters or when the covariance is unavailable.
type Estimate struct {
	Param   fit.Parameter
	Value   float64
	Sigma   float64
	Free    bool
	AtBound bool
}

// Report aggregates the quality indicators of one de-reddening run.
// Numeric fields of a missing stage are NaN and its counts are zero.
type Report struct {
	HasFit, HasPair, HasCorrection bool

	GridPoints      int
	ValidAligned    int
	OutsideCoverage int

	FittedPoints        int
	ExcludedNonPositive int
	ExcludedOutOfRange  int

	CorrectionOutOfRange int

	ChiSquare        float64
	ReducedChiSquare float64
	Iterations       int
	Converged        bool
	Message          string
	Estimates        []Estimate
	Residuals        []fit.ResidualPoint

	Flags []Flag
}

// Summarize builds a Report. Any argument may be nil, for example a
// correction applied with externally known parameters has no fit.
func Summarize(res *fit.Result, pair *align.AlignedPair, der *correct.Dereddened) Report {
	r := Report{
		ChiSquare:        math.NaN(),
		ReducedChiSquare: math.NaN(),
	}

	if pair != nil {
		r.HasPair = true
		r.GridPoints = pair.Len()
		r.ValidAligned = pair.NValid()
		r.OutsideCoverage = pair.OutsideCoverage
	}

	if res != nil {
		r.HasFit = true
		r.FittedPoints = res.NValid
		r.ExcludedNonPositive = res.ExcludedNonPositive
		r.ExcludedOutOfRange = res.ExcludedOutOfRange
		r.ChiSquare = res.ChiSquare
		r.ReducedChiSquare = res.ReducedChiSquare
		r.Iterations = res.Iterations
		r.Converged = res.Converged
		r.Message = res.Message
		r.Estimates = estimates(res)
		r.Residuals = append([]fit.ResidualPoint(nil), res.Residuals...)

		if !res.Converged {
			r.add(FlagNotConverged)
		}

		if !res.CovarianceAvailable() {
			r.add(FlagCovarianceUnavailable)
		}

		if res.ExcludedNonPositive > 0 {
			r.add(FlagNonPositiveFlux)
		}

		if res.ExcludedOutOfRange > 0 {
			r.add(FlagFitOutOfRange)
		}

		if len(res.AtBound) > 0 {
			r.add(FlagParameterAtBound)
		}

		if res.ReducedChiSquare > PoorFitThreshold {
			r.add(FlagPoorFit)
		}
	}

	if der != nil {
		r.HasCorrection = true
		r.CorrectionOutOfRange = der.OutOfRangeCount()

		if r.CorrectionOutOfRange > 0 {
			r.add(FlagCorrectionOutOfRange)
		}

		if der.ParamUncertaintyOmitted {
			r.add(FlagUncertaintyOmitted)
		}
	}

	return r
}

func estimates(res *fit.Result) []Estimate {
	out := []Estimate{
		{Param: fit.ParamEBV, Value: res.Params.EBV},
		{Param: fit.ParamRV, Value: res.Params.RV},
	}

	if res.Index(fit.ParamScale) >= 0 {
		out = append(out, Estimate{Param: fit.ParamScale, Value: res.Scale})
	}

	for i := range out {
		p := out[i].Param
		out[i].Free = res.Index(p) >= 0
		out[i].AtBound = res.IsAtBound(p)
		out[i].Sigma = res.Sigma(p)

		// Sigma of ln(scale) to first order in the scale itself.
		if p == fit.ParamScale {
			out[i].Sigma *= res.Scale
		}
	}

	return out
}

func (r *Report) add(f Flag) { r.Flags = append(r.Flags, f) }

// Has reports whether f was raised.
func (r Report) Has(f Flag) bool {
	for _, g := range r.Flags {
		if g == f {
			return true
		}
	}

	return false
}

// Estimate returns the estimate of p and whether the report has one.
func (r Report) Estimate(p fit.Parameter) (Estimate, bool) {
	for _, e := range r.Estimates {
		if e.Param == p {
			return e, true
		}
	}

	return Estimate{}, false
}

// String renders the report as an aligned two-column table.
func (r Report) String() string {
	var sb strings.Builder

	_ = r.Write(&sb)

	return sb.String()
}

// Write renders the report to w.
func (r Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	row := func(name, format string, args ...any) {
		_, _ = fmt.Fprintf(tw, "%s\t"+format+"\n", append([]any{name}, args...)...)
	}

	if r.HasPair {
		row("grid points", "%d", r.GridPoints)
		row("valid aligned", "%d", r.ValidAligned)
		row("outside coverage", "%d", r.OutsideCoverage)
	}

	if r.HasFit {
		row("fitted points", "%d", r.FittedPoints)
		row("excluded non-positive", "%d", r.ExcludedNonPositive)
		row("excluded out of range", "%d", r.ExcludedOutOfRange)

		for _, e := range r.Estimates {
			name := e.Param.String()
			if e.Param == fit.ParamScale {
				name = "scale"
			}

			switch {
			case !e.Free:
				row(name, "%.4f (fixed)", e.Value)
			case math.IsNaN(e.Sigma):
				row(name, "%.4f ± n/a", e.Value)
			default:
				row(name, "%.4f ± %.4f", e.Value, e.Sigma)
			}
		}

		row("chi2", "%.4g", r.ChiSquare)
		row("reduced chi2", "%.4g", r.ReducedChiSquare)
		row("iterations", "%d", r.Iterations)
		row("converged", "%v", r.Converged)
		row("message", "%s", r.Message)
	}

	if r.HasCorrection {
		row("correction out of range", "%d", r.CorrectionOutOfRange)
	}

	flags := make([]string, len(r.Flags))
	for i, f := range r.Flags {
		flags[i] = f.String()
	}

	if len(flags) == 0 {
		flags = append(flags, "none")
	}

	row("flags", "%s", strings.Join(flags, ", "))

	return tw.Flush()
}
