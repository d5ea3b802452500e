package fit

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-dust/align"
	"github.com/cwbudde/algo-dust/extinction"
	"github.com/cwbudde/algo-dust/internal/numeric"
)

const (
	initialLambda = 1e-3
	maxLambda     = 1e16
	lambdaUp      = 10.0
	lambdaDown    = 10.0
	stepTolerance = 1e-12
	gradTolerance = 1e-6
	// rcondLimit is the smallest singular-value ratio of J^T J treated as
	// full rank.
	rcondLimit = 1e-13
	// dampingFloor bounds each Marquardt scale entry from below, relative
	// to the largest diagonal of J^T J.
	dampingFloor = 1e-12
)

// Fitter minimizes the residuals of a ResidualModel over the free extinction
// parameters with a bounded Levenberg-Marquardt iteration.
// A Fitter holds only its Config and may be shared between goroutines.
type Fitter struct {
	cfg Config
}

// NewFitter creates a fitter. Zero-valued numeric fields of cfg fall back
// to DefaultConfig values.
func NewFitter(cfg Config) *Fitter {
	return &Fitter{cfg: normalizeConfig(cfg)}
}

// Config returns the normalized configuration.
func (f *Fitter) Config() Config { return f.cfg }

// Fit is a one-shot convenience wrapper around NewFitter(NewConfig(opts...)).Fit.
func Fit(pair *align.AlignedPair, law extinction.Law, initial extinction.Params, opts ...Option) (*Result, error) {
	return NewFitter(NewConfig(opts...)).Fit(pair, law, initial)
}

// problem binds one fit invocation: model, free-parameter layout and bounds.
type problem struct {
	cfg   Config
	model *ResidualModel
	law   extinction.Law
	free  []Parameter
	base  extinction.Params
	// analytic is set when law partials come from extinction.Differentiable.
	analytic bool
}

// Fit estimates the extinction parameters that best map template onto
// observed flux. Only structurally invalid input returns an error;
// non-convergence and degenerate covariance are reported in the Result.
func (f *Fitter) Fit(pair *align.AlignedPair, law extinction.Law, initial extinction.Params) (*Result, error) {
	if pair == nil || law == nil {
		return nil, ErrNilInput
	}

	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNonFiniteInitial, err)
	}

	cfg := f.cfg
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	_, differentiable := law.(extinction.Differentiable)
	if cfg.Jacobian == JacobianAnalytic && !differentiable {
		return nil, ErrNotDifferentiable
	}

	model, err := NewResidualModel(pair, law)
	if err != nil {
		return nil, err
	}

	pr := &problem{
		cfg:      cfg,
		model:    model,
		law:      law,
		free:     []Parameter{ParamEBV},
		base:     initial,
		analytic: differentiable && cfg.Jacobian != JacobianFiniteDifference,
	}

	if cfg.FixRV {
		pr.base.RV = cfg.FixedRV
	} else {
		pr.free = append(pr.free, ParamRV)
	}

	if cfg.FitScale {
		pr.free = append(pr.free, ParamScale)
	}

	if model.Len() < len(pr.free)+1 {
		return nil, &TooFewPointsError{Valid: model.Len(), Required: len(pr.free) + 1}
	}

	return pr.solve()
}

// pack returns the clamped free-parameter vector for p and lnScale.
func (pr *problem) pack(p extinction.Params, lnScale float64) []float64 {
	x := make([]float64, len(pr.free))
	for i, q := range pr.free {
		switch q {
		case ParamEBV:
			x[i] = p.EBV
		case ParamRV:
			x[i] = p.RV
		case ParamScale:
			x[i] = lnScale
		}
	}

	pr.clamp(x)

	return x
}

func (pr *problem) unpack(x []float64) (extinction.Params, float64) {
	p := pr.base

	var lnScale float64

	for i, q := range pr.free {
		switch q {
		case ParamEBV:
			p.EBV = x[i]
		case ParamRV:
			p.RV = x[i]
		case ParamScale:
			lnScale = x[i]
		}
	}

	return p, lnScale
}

func (pr *problem) bounds(q Parameter) (float64, float64) {
	switch q {
	case ParamEBV:
		return 0, pr.cfg.EBVMax
	case ParamRV:
		return pr.cfg.RVMin, pr.cfg.RVMax
	default:
		return math.Inf(-1), math.Inf(1)
	}
}

// clamp projects x onto the box constraints. Negative reddening is clamped
// to zero rather than rejected.
func (pr *problem) clamp(x []float64) {
	for i, q := range pr.free {
		lo, hi := pr.bounds(q)
		x[i] = numeric.Clamp(x[i], lo, hi)
	}
}

func (pr *problem) residuals(x []float64) ([]float64, error) {
	p, lnScale := pr.unpack(x)
	return pr.model.ResidualsScaled(p, lnScale)
}

// jacobian returns dr/dx as an n x len(free) matrix.
func (pr *problem) jacobian(x []float64) (*mat.Dense, error) {
	n, k := pr.model.Len(), len(pr.free)
	jac := mat.NewDense(n, k, nil)

	if pr.analytic {
		p, _ := pr.unpack(x)
		d := pr.law.(extinction.Differentiable)

		for i, w := range pr.model.angstrom {
			dE, dR, err := d.Gradient(w, p)
			if err != nil {
				return nil, err
			}

			s := pr.model.sigma[i]
			for j, q := range pr.free {
				switch q {
				case ParamEBV:
					jac.Set(i, j, numeric.MagScale*dE/s)
				case ParamRV:
					jac.Set(i, j, numeric.MagScale*dR/s)
				case ParamScale:
					jac.Set(i, j, -1/s)
				}
			}
		}

		return jac, nil
	}

	xp := append([]float64(nil), x...)
	for j := range pr.free {
		h := 1e-6 * math.Max(math.Abs(x[j]), 1e-3)

		xp[j] = x[j] + h
		rPlus, err := pr.residuals(xp)
		if err != nil {
			return nil, err
		}

		xp[j] = x[j] - h
		rMinus, err := pr.residuals(xp)
		if err != nil {
			return nil, err
		}

		xp[j] = x[j]

		for i := range rPlus {
			jac.Set(i, j, (rPlus[i]-rMinus[i])/(2*h))
		}
	}

	return jac, nil
}

// solve runs the damped Gauss-Newton iteration.
//
//nolint:funlen,cyclop
func (pr *problem) solve() (*Result, error) {
	log := pr.cfg.Logger

	var lnScale0 float64
	if pr.cfg.FitScale {
		s, err := pr.model.initialScale(pr.base)
		if err != nil {
			return nil, err
		}

		lnScale0 = s
	}

	x := pr.pack(pr.base, lnScale0)

	r, err := pr.residuals(x)
	if err != nil {
		return nil, err
	}

	c := cost(r)
	lambda := initialLambda
	k := len(x)

	var (
		converged bool
		message   string
		iter      int
	)

	for iter = 0; iter < pr.cfg.MaxIterations && !converged; iter++ {
		if c == 0 {
			converged, message = true, "exact fit"
			break
		}

		jac, err := pr.jacobian(x)
		if err != nil {
			return nil, err
		}

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())

		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(len(r), r))

		accepted := false

		for !accepted {
			if lambda > maxLambda {
				break
			}

			step, ok := dampedStep(&jtj, &grad, lambda)
			if !ok {
				lambda *= lambdaUp
				continue
			}

			xNew := make([]float64, k)
			for i := range xNew {
				xNew[i] = x[i] - step.AtVec(i)
			}

			pr.clamp(xNew)

			if stepNorm(x, xNew) <= stepTolerance*(norm(x)+stepTolerance) {
				converged, message = true, "parameter step below tolerance"
				break
			}

			rNew, err := pr.residuals(xNew)
			if err != nil {
				return nil, err
			}

			cNew := cost(rNew)
			if cNew < c {
				improvement := (c - cNew) / c
				x, r, c = xNew, rNew, cNew
				lambda = math.Max(lambda/lambdaDown, 1e-12)
				accepted = true

				if improvement < pr.cfg.Tolerance {
					converged, message = true, "relative cost improvement below tolerance"
				}

				break
			}

			lambda *= lambdaUp
		}

		if log.Core().Enabled(zap.DebugLevel) {
			p, s := pr.unpack(x)
			log.Debug("fit iteration",
				zap.Int("iteration", iter+1),
				zap.Float64("cost", c),
				zap.Float64("lambda", lambda),
				zap.Float64("ebv", p.EBV),
				zap.Float64("rv", p.RV),
				zap.Float64("ln_scale", s),
				zap.Bool("accepted", accepted),
			)
		}

		if !accepted && !converged {
			// No damped step reduces the cost: we sit on a minimum to
			// working precision unless the gradient says otherwise.
			if vecInfNorm(&grad) <= gradTolerance*math.Max(1, c) {
				converged, message = true, "cost cannot be reduced further"
			} else {
				message = "damping saturated before convergence"
			}

			iter++

			break
		}
	}

	if !converged && message == "" {
		message = fmt.Sprintf("iteration limit %d reached", pr.cfg.MaxIterations)
	}

	return pr.finish(x, r, c, iter, converged, message)
}

// dampedStep solves (J^T J + lambda D) step = J^T r with Marquardt scaling
// D = diag(J^T J), each entry floored relative to the largest one. A
// parameter with a vanishing column (R_V at E(B-V) = 0) gets a zero step.
func dampedStep(jtj *mat.SymDense, grad *mat.VecDense, lambda float64) (*mat.VecDense, bool) {
	n := jtj.SymmetricDim()

	var maxDiag float64
	for i := range n {
		maxDiag = math.Max(maxDiag, jtj.At(i, i))
	}

	step := mat.NewVecDense(n, nil)
	if !(maxDiag > 0) {
		return step, true
	}

	scale := make([]float64, n)
	for i := range n {
		d := math.Max(jtj.At(i, i), dampingFloor*maxDiag)
		scale[i] = 1 / math.Sqrt(d)
	}

	a := mat.NewSymDense(n, nil)
	g := mat.NewVecDense(n, nil)

	for i := range n {
		g.SetVec(i, grad.AtVec(i)*scale[i])

		for j := i; j < n; j++ {
			v := jtj.At(i, j) * scale[i] * scale[j]
			if i == j {
				v += lambda
			}

			a.SetSym(i, j, v)
		}
	}

	y := mat.NewVecDense(n, nil)

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok || chol.SolveVecTo(y, g) != nil {
		var solved bool
		if y, solved = pseudoSolve(a, g); !solved {
			return nil, false
		}
	}

	for i := range n {
		v := y.AtVec(i) * scale[i]
		if !numeric.IsFinite(v) {
			return nil, false
		}

		step.SetVec(i, v)
	}

	return step, true
}

// pseudoSolve solves a y = g with the SVD pseudo-inverse, dropping singular
// values below rcondLimit relative to the largest.
func pseudoSolve(a *mat.SymDense, g *mat.VecDense) (*mat.VecDense, bool) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, false
	}

	values := svd.Values(nil)
	if len(values) == 0 || !(values[0] > 0) {
		return nil, false
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	y := mat.NewVecDense(len(values), nil)
	for k, sv := range values {
		if sv <= rcondLimit*values[0] {
			continue
		}

		y.AddScaledVec(y, mat.Dot(u.ColView(k), g)/sv, v.ColView(k))
	}

	return y, true
}

// finish assembles the Result at the final iterate.
func (pr *problem) finish(x, r []float64, c float64, iter int, converged bool, message string) (*Result, error) {
	p, lnScale := pr.unpack(x)
	n, k := len(r), len(x)
	dof := n - k

	res := &Result{
		Params:              p,
		Scale:               math.Exp(lnScale),
		Free:                append([]Parameter(nil), pr.free...),
		ChiSquare:           c,
		ReducedChiSquare:    c / float64(dof),
		NValid:              n,
		Iterations:          iter,
		Converged:           converged,
		Message:             message,
		ExcludedNonPositive: pr.model.ExcludedNonPositive(),
		ExcludedOutOfRange:  pr.model.ExcludedOutOfRange(),
		Residuals:           make([]ResidualPoint, n),
	}

	for i := range r {
		res.Residuals[i] = ResidualPoint{Wavelength: pr.model.wavelength[i], Residual: r[i]}
	}

	for i, q := range pr.free {
		lo, hi := pr.bounds(q)
		if x[i] == lo || x[i] == hi {
			res.AtBound = append(res.AtBound, q)
		}
	}

	jac, err := pr.jacobian(x)
	if err != nil {
		return nil, err
	}

	cov, err := covariance(jac, res.ReducedChiSquare)
	if err != nil {
		res.Covariance = nanCovariance(k)
		res.Message += "; covariance unavailable: " + err.Error()

		return res, nil
	}

	res.Covariance = cov

	return res, nil
}

var errRankDeficient = errors.New("jacobian is rank-deficient")

// covariance returns (J^T J)^-1 * s2, or errRankDeficient.
func covariance(jac *mat.Dense, s2 float64) (*mat.SymDense, error) {
	n, k := jac.Dims()
	if n <= k {
		return nil, errRankDeficient
	}

	var jtj mat.SymDense
	jtj.SymOuterK(1, jac.T())

	var svd mat.SVD
	if ok := svd.Factorize(&jtj, mat.SVDNone); !ok {
		return nil, errRankDeficient
	}

	values := svd.Values(nil)
	if values[0] <= 0 || values[len(values)-1] <= rcondLimit*values[0] {
		return nil, errRankDeficient
	}

	var inv mat.Dense
	if err := inv.Inverse(&jtj); err != nil {
		return nil, errRankDeficient
	}

	cov := mat.NewSymDense(k, nil)
	for i := range k {
		for j := i; j < k; j++ {
			cov.SetSym(i, j, 0.5*(inv.At(i, j)+inv.At(j, i))*s2)
		}
	}

	return cov, nil
}

func norm(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v * v
	}

	return math.Sqrt(s)
}

func stepNorm(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := b[i] - a[i]
		s += d * d
	}

	return math.Sqrt(s)
}

func vecInfNorm(v *mat.VecDense) float64 {
	var m float64
	for i := range v.Len() {
		m = math.Max(m, math.Abs(v.AtVec(i)))
	}

	return m
}
