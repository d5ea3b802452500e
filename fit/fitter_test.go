package fit

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-dust/align"
	"github.com/cwbudde/algo-dust/extinction"
	"github.com/cwbudde/algo-dust/internal/testutil"
	"github.com/cwbudde/algo-dust/spectrum"
)

func TestFitRecoversKnownReddening(t *testing.T) {
	tests := []struct {
		name string
		law  extinction.Law
		rv   float64
		opts []Option
	}{
		{"ccm89 analytic", extinction.CCM89{}, 3.1, nil},
		{"ccm89 finite difference", extinction.CCM89{}, 3.1, []Option{WithJacobian(JacobianFiniteDifference)}},
		{"ccm89 hidden gradient", hiddenGradient{extinction.CCM89{}}, 3.1, nil},
		{"o94", extinction.O94{}, 3.1, nil},
		{"calzetti00", extinction.Calzetti00{}, 4.05, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := defaultSynth()
			s.law = tc.law
			s.params.RV = tc.rv
			if _, hi := tc.law.Range(); s.hi > hi {
				s.hi = hi
			}

			res, err := Fit(s.pair(t), tc.law, extinction.DefaultParams(), tc.opts...)
			if err != nil {
				t.Fatal(err)
			}

			if !res.Converged {
				t.Fatalf("not converged: %s", res.Message)
			}

			testutil.RequireNear(t, "E(B-V)", res.Params.EBV, 0.3, 1e-4)
			testutil.RequireNear(t, "R_V", res.Params.RV, tc.rv, 1e-3)

			if res.NValid != s.n {
				t.Errorf("NValid = %d, want %d", res.NValid, s.n)
			}
			if len(res.Free) != 2 || res.Covariance.SymmetricDim() != 2 {
				t.Errorf("free = %v", res.Free)
			}
			if res.ReducedChiSquare > 1e-6 {
				t.Errorf("noise-free reduced chi2 = %v", res.ReducedChiSquare)
			}
			if res.Scale != 1 {
				t.Errorf("scale = %v without FitScale", res.Scale)
			}
		})
	}
}

func TestFitFixedRV(t *testing.T) {
	s := defaultSynth()
	s.params = extinction.Params{EBV: 0.45, RV: 2.5}

	res, err := Fit(s.pair(t), s.law, extinction.Params{EBV: 1, RV: 3.1}, WithFixedRV(2.5))
	if err != nil {
		t.Fatal(err)
	}

	if !res.Converged {
		t.Fatalf("not converged: %s", res.Message)
	}
	testutil.RequireNear(t, "E(B-V)", res.Params.EBV, 0.45, 1e-6)
	if res.Params.RV != 2.5 {
		t.Fatalf("R_V = %v, want pinned 2.5", res.Params.RV)
	}
	if res.Covariance.SymmetricDim() != 1 || res.Index(ParamRV) != -1 {
		t.Fatalf("expected 1x1 covariance for E(B-V) only, free = %v", res.Free)
	}
	if !math.IsNaN(res.Sigma(ParamRV)) {
		t.Fatal("fixed R_V must have NaN sigma")
	}
}

func TestFitWithScale(t *testing.T) {
	s := defaultSynth()
	s.scale = 2.5

	res, err := Fit(s.pair(t), s.law, extinction.DefaultParams(), WithScale(true))
	if err != nil {
		t.Fatal(err)
	}

	if !res.Converged {
		t.Fatalf("not converged: %s", res.Message)
	}
	testutil.RequireNear(t, "scale", res.Scale, 2.5, 1e-4)
	testutil.RequireNear(t, "E(B-V)", res.Params.EBV, 0.3, 1e-4)
	testutil.RequireNear(t, "R_V", res.Params.RV, 3.1, 1e-3)
	if len(res.Free) != 3 {
		t.Fatalf("free = %v, want 3 parameters", res.Free)
	}
}

func TestFitNoisySpectrum(t *testing.T) {
	s := defaultSynth()
	s.noiseFrac = 0.02
	s.seed = 11

	res, err := Fit(s.pair(t), s.law, extinction.DefaultParams(), WithFixedRV(3.1))
	if err != nil {
		t.Fatal(err)
	}

	if !res.CovarianceAvailable() {
		t.Fatalf("covariance unavailable: %s", res.Message)
	}

	sigma := res.Sigma(ParamEBV)
	if !(sigma > 0) {
		t.Fatalf("sigma(E(B-V)) = %v", sigma)
	}
	if math.Abs(res.Params.EBV-0.3) > 5*sigma {
		t.Fatalf("E(B-V) = %v ± %v, want 0.3 within 5 sigma", res.Params.EBV, sigma)
	}
	if res.ReducedChiSquare < 0.8 || res.ReducedChiSquare > 1.2 {
		t.Fatalf("reduced chi2 = %v, want ~1", res.ReducedChiSquare)
	}
	if len(res.Residuals) != res.NValid {
		t.Fatalf("residuals = %d, NValid = %d", len(res.Residuals), res.NValid)
	}
}

func TestFitClampsNegativeReddening(t *testing.T) {
	// Observed bluer than the template: the unconstrained optimum is E < 0.
	s := defaultSynth()
	s.params = extinction.Params{EBV: -0.05, RV: 3.1}

	res, err := Fit(s.pair(t), s.law, extinction.DefaultParams(), WithFixedRV(3.1))
	if err != nil {
		t.Fatalf("negative optimum must clamp, not fail: %v", err)
	}

	if res.Params.EBV != 0 {
		t.Fatalf("E(B-V) = %v, want clamped 0", res.Params.EBV)
	}
	if !res.IsAtBound(ParamEBV) {
		t.Fatalf("AtBound = %v, want E(B-V)", res.AtBound)
	}
}

func TestFitClampsInitialGuess(t *testing.T) {
	s := defaultSynth()

	res, err := Fit(s.pair(t), s.law, extinction.Params{EBV: 12, RV: 3.1})
	if err != nil {
		t.Fatal(err)
	}

	testutil.RequireNear(t, "E(B-V)", res.Params.EBV, 0.3, 1e-4)
	testutil.RequireNear(t, "R_V", res.Params.RV, 3.1, 1e-3)
}

func TestFitIterationLimitReturnsBestIterate(t *testing.T) {
	s := defaultSynth()

	res, err := Fit(s.pair(t), s.law, extinction.Params{EBV: 2, RV: 6}, WithMaxIterations(1))
	if err != nil {
		t.Fatal(err)
	}

	if res.Converged {
		t.Fatal("one iteration from a distant start should not converge")
	}
	if !strings.Contains(res.Message, "iteration limit") {
		t.Fatalf("message = %q", res.Message)
	}
	if res.Iterations != 1 {
		t.Fatalf("iterations = %d, want 1", res.Iterations)
	}
	if err := res.Params.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestFitRankDeficientCovariance(t *testing.T) {
	// Unreddened data: E(B-V) -> 0 where R_V has no effect on the model.
	s := defaultSynth()
	s.params = extinction.Params{EBV: 0, RV: 3.1}

	res, err := Fit(s.pair(t), s.law, extinction.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}

	if !res.Converged {
		t.Fatalf("not converged: %s", res.Message)
	}
	if res.Params.EBV > 1e-6 {
		t.Fatalf("E(B-V) = %v, want 0", res.Params.EBV)
	}
	if res.CovarianceAvailable() {
		t.Fatal("covariance should be unavailable")
	}
	if !math.IsNaN(res.Covariance.At(0, 0)) || !math.IsNaN(res.Covariance.At(1, 1)) {
		t.Fatal("covariance must be all NaN")
	}
	if !strings.Contains(res.Message, "covariance unavailable") {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestFitStartsAtZeroReddening(t *testing.T) {
	laws := []struct {
		name string
		law  extinction.Law
		rv   float64
		opts []Option
	}{
		{"ccm89", extinction.CCM89{}, 3.1, nil},
		{"ccm89 finite difference", extinction.CCM89{}, 3.1, []Option{WithJacobian(JacobianFiniteDifference)}},
		{"o94", extinction.O94{}, 3.1, nil},
		{"calzetti00", extinction.Calzetti00{}, 4.05, nil},
	}

	for _, tc := range laws {
		for _, ebv := range []float64{0.3, 1.5} {
			t.Run(fmt.Sprintf("%s/ebv=%.1f", tc.name, ebv), func(t *testing.T) {
				s := defaultSynth()
				s.law = tc.law
				s.params = extinction.Params{EBV: ebv, RV: tc.rv}
				if _, hi := tc.law.Range(); s.hi > hi {
					s.hi = hi
				}

				res, err := Fit(s.pair(t), tc.law, extinction.Params{EBV: 0, RV: 3.1}, tc.opts...)
				if err != nil {
					t.Fatal(err)
				}

				if !res.Converged {
					t.Fatalf("not converged: %s", res.Message)
				}
				testutil.RequireNear(t, "E(B-V)", res.Params.EBV, ebv, 1e-4)
				testutil.RequireNear(t, "R_V", res.Params.RV, tc.rv, 1e-3)
				if !res.CovarianceAvailable() {
					t.Fatalf("covariance unavailable: %s", res.Message)
				}
			})
		}
	}
}

func TestDampedStepZeroColumn(t *testing.T) {
	// R_V column vanishes at E(B-V) = 0.
	jtj := mat.NewSymDense(2, []float64{1e8, 0, 0, 0})
	grad := mat.NewVecDense(2, []float64{1e7, 0})

	for _, lambda := range []float64{1e-12, 1e-3, 1, 1e6} {
		step, ok := dampedStep(jtj, grad, lambda)
		if !ok {
			t.Fatalf("lambda=%g: step rejected", lambda)
		}

		testutil.RequireNear(t, "E(B-V) step", step.AtVec(0), 0.1/(1+lambda), 1e-12)
		if step.AtVec(1) != 0 {
			t.Fatalf("lambda=%g: R_V step = %v, want 0", lambda, step.AtVec(1))
		}
	}
}

func TestPseudoSolveSingular(t *testing.T) {
	a := mat.NewSymDense(2, []float64{1, 1, 1, 1})
	g := mat.NewVecDense(2, []float64{2, 2})

	y, ok := pseudoSolve(a, g)
	if !ok {
		t.Fatal("pseudoSolve failed")
	}

	testutil.RequireSliceNearlyEqual(t, []float64{y.AtVec(0), y.AtVec(1)}, []float64{1, 1}, 1e-12)
}

func TestFitExcludesNonPositiveFlux(t *testing.T) {
	s := defaultSynth()
	obs, tmpl := s.build(t)

	flux := obs.Fluxes()
	flux[10] = -1.0
	flux[20] = 0
	obs, err := spectrum.New(obs.Wavelengths(), flux, obs.Variances(), obs.Unit())
	if err != nil {
		t.Fatal(err)
	}

	pair, err := align.Align(obs, tmpl)
	if err != nil {
		t.Fatal(err)
	}

	res, err := Fit(pair, s.law, extinction.DefaultParams())
	if err != nil {
		t.Fatalf("non-positive flux must not fail the fit: %v", err)
	}

	if res.ExcludedNonPositive != 2 {
		t.Fatalf("ExcludedNonPositive = %d, want 2", res.ExcludedNonPositive)
	}
	if res.NValid != s.n-2 {
		t.Fatalf("NValid = %d, want %d", res.NValid, s.n-2)
	}
	testutil.RequireNear(t, "E(B-V)", res.Params.EBV, 0.3, 1e-4)
}

func TestFitExcludesOutOfRange(t *testing.T) {
	// Reddened with CCM89, which covers the whole grid, then fitted with
	// Calzetti00 whose range ends at 22000 Å.
	s := defaultSynth()
	s.lo, s.hi = 1250, 30000

	beyond := 0
	for _, w := range testutil.LinearGrid(s.lo, s.hi, s.n) {
		if w > 22000 {
			beyond++
		}
	}

	res, err := Fit(s.pair(t), extinction.Calzetti00{}, extinction.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}

	if res.ExcludedOutOfRange != beyond {
		t.Fatalf("ExcludedOutOfRange = %d, want %d", res.ExcludedOutOfRange, beyond)
	}
	if res.NValid != s.n-beyond {
		t.Fatalf("NValid = %d, want %d", res.NValid, s.n-beyond)
	}
	for _, pt := range res.Residuals {
		if pt.Wavelength > 22000 {
			t.Fatalf("residual at %v beyond the law range", pt.Wavelength)
		}
	}
}

func TestFitStructuralErrors(t *testing.T) {
	s := defaultSynth()
	pair := s.pair(t)

	if _, err := Fit(pair, s.law, extinction.Params{EBV: math.NaN(), RV: 3.1}); !errors.Is(err, ErrNonFiniteInitial) {
		t.Errorf("NaN guess: err = %v", err)
	}
	if _, err := Fit(nil, s.law, extinction.DefaultParams()); !errors.Is(err, ErrNilInput) {
		t.Errorf("nil pair: err = %v", err)
	}
	if _, err := Fit(pair, nil, extinction.DefaultParams()); !errors.Is(err, ErrNilInput) {
		t.Errorf("nil law: err = %v", err)
	}
	if _, err := Fit(pair, s.law, extinction.DefaultParams(), WithRVBounds(5, 2)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("inverted bounds: err = %v", err)
	}
	if _, err := Fit(pair, s.law, extinction.DefaultParams(), WithFixedRV(math.Inf(1))); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("infinite fixed R_V: err = %v", err)
	}
	if _, err := Fit(pair, hiddenGradient{s.law}, extinction.DefaultParams(), WithJacobian(JacobianAnalytic)); !errors.Is(err, ErrNotDifferentiable) {
		t.Errorf("analytic without gradient: err = %v", err)
	}
}

func TestFitTooFewPoints(t *testing.T) {
	wave := testutil.LinearGrid(4000, 5000, 6)
	tmpl, err := spectrum.New(wave, testutil.DC(1, 6), testutil.DC(0.01, 6), spectrum.UnitAngstrom)
	if err != nil {
		t.Fatal(err)
	}
	obs, err := spectrum.New(wave, []float64{1, 1, -1, -1, -1, -1}, testutil.DC(0.01, 6), spectrum.UnitAngstrom)
	if err != nil {
		t.Fatal(err)
	}

	pair, err := align.Align(obs, tmpl)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Fit(pair, extinction.CCM89{}, extinction.DefaultParams())
	var tf *TooFewPointsError
	if !errors.As(err, &tf) || tf.Valid != 2 || tf.Required != 3 {
		t.Fatalf("err = %v, want TooFewPointsError{2, 3}", err)
	}

	// Pinning R_V lowers the requirement to two points.
	if _, err := Fit(pair, extinction.CCM89{}, extinction.DefaultParams(), WithFixedRV(3.1)); err != nil {
		t.Fatalf("fixed R_V: %v", err)
	}
}

func TestFitterSharedAcrossGoroutines(t *testing.T) {
	s := defaultSynth()
	pair := s.pair(t)
	fitter := NewFitter(DefaultConfig())

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	errs := make([]error, 8)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fitter.Fit(pair, s.law, extinction.DefaultParams())
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatal(errs[i])
		}
		if results[i].Params != results[0].Params {
			t.Fatalf("run %d: %+v differs from %+v", i, results[i].Params, results[0].Params)
		}
	}
}

func TestFitLogsIterations(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := defaultSynth()

	if _, err := Fit(s.pair(t), s.law, extinction.DefaultParams(), WithLogger(zap.New(core))); err != nil {
		t.Fatal(err)
	}

	if logs.FilterMessage("fit iteration").Len() == 0 {
		t.Fatal("expected debug iteration logs")
	}
}

func TestNewFitterNormalizesConfig(t *testing.T) {
	cfg := NewFitter(Config{}).Config()
	if cfg.EBVMax != 5 || cfg.RVMin != 1 || cfg.RVMax != 8 || cfg.MaxIterations != 200 || cfg.Tolerance != 1e-8 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Logger == nil {
		t.Fatal("logger must default to a no-op logger")
	}
}
