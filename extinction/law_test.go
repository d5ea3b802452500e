package extinction

import (
	"errors"
	"math"
	"testing"
)

func logGrid(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := math.Log(hi/lo) / float64(n-1)
	for i := range out {
		out[i] = lo * math.Exp(step*float64(i))
	}
	out[n-1] = hi
	return out
}

func TestCCM89VBandNormalization(t *testing.T) {
	// At x = 1.82 (y = 0) a = 1 and b = 0, so A = A_V.
	p := Params{EBV: 0.5, RV: 3.1}
	for _, law := range []Law{CCM89{}, O94{}} {
		got, err := law.Magnitude(1e4/1.82, p)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(got-p.AV()) > 1e-12 {
			t.Errorf("%s: A(V) = %v, want %v", law.Name(), got, p.AV())
		}
	}
}

func TestMagnitudeMonotonicInEBV(t *testing.T) {
	cases := []struct {
		law Law
		rv  float64
	}{
		{CCM89{}, 3.1},
		{O94{}, 3.1},
		{CCM89{}, 5.5},
		{Calzetti00{}, 4.05},
	}

	for _, tc := range cases {
		lo, hi := tc.law.Range()
		for _, w := range logGrid(lo, hi, 200) {
			prev := math.Inf(-1)
			for _, ebv := range []float64{0, 0.05, 0.1, 0.3, 1, 2.5} {
				got, err := tc.law.Magnitude(w, Params{EBV: ebv, RV: tc.rv})
				if err != nil {
					t.Fatalf("%s at %v: %v", tc.law.Name(), w, err)
				}
				if got <= prev {
					t.Fatalf("%s at %.1f Å R_V=%v: A(E=%v)=%v not > %v", tc.law.Name(), w, tc.rv, ebv, got, prev)
				}
				prev = got
			}
		}
	}
}

func TestOutOfRange(t *testing.T) {
	for _, law := range []Law{CCM89{}, O94{}, Calzetti00{}} {
		lo, hi := law.Range()
		for _, w := range []float64{lo * 0.99, hi * 1.01} {
			_, err := law.Magnitude(w, DefaultParams())
			if !errors.Is(err, ErrOutOfRange) {
				t.Fatalf("%s at %v: err = %v, want ErrOutOfRange", law.Name(), w, err)
			}

			var oe *OutOfRangeError
			if !errors.As(err, &oe) || oe.Wavelength != w || oe.Law != law.Name() {
				t.Fatalf("%s: unexpected error detail %v", law.Name(), err)
			}
		}

		if _, err := law.Magnitude(lo, DefaultParams()); err != nil {
			t.Errorf("%s: lower bound should be inclusive: %v", law.Name(), err)
		}
		if _, err := law.Magnitude(hi, DefaultParams()); err != nil {
			t.Errorf("%s: upper bound should be inclusive: %v", law.Name(), err)
		}
	}
}

func TestAnalyticGradientMatchesNumeric(t *testing.T) {
	p := Params{EBV: 0.3, RV: 3.1}
	for _, law := range []Differentiable{CCM89{}, O94{}, Calzetti00{}} {
		lo, hi := law.Range()
		for _, w := range logGrid(lo*1.001, hi*0.999, 50) {
			dE, dR, err := law.Gradient(w, p)
			if err != nil {
				t.Fatal(err)
			}
			nE, nR, err := NumericGradient(law, w, p)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(dE-nE) > 1e-5*math.Max(1, math.Abs(dE)) || math.Abs(dR-nR) > 1e-5*math.Max(1, math.Abs(dR)) {
				t.Fatalf("%s at %.1f: analytic (%v, %v) numeric (%v, %v)", law.Name(), w, dE, dR, nE, nR)
			}
		}
	}
}

func TestCCMContinuityAtSegmentEdges(t *testing.T) {
	p := Params{EBV: 1, RV: 3.1}
	for _, x := range []float64{1.1, 3.3, 8} {
		below, err := CCM89{}.Magnitude(1e4/(x-1e-9), p)
		if err != nil {
			t.Fatal(err)
		}
		above, err := CCM89{}.Magnitude(1e4/(x+1e-9), p)
		if err != nil {
			t.Fatal(err)
		}
		// CCM89 is only approximately continuous at its joins.
		if math.Abs(below-above) > 0.1 {
			t.Errorf("x=%v: jump %v -> %v", x, below, above)
		}
	}
}

func TestTransmission(t *testing.T) {
	tr, err := Transmission(CCM89{}, 5500, Params{EBV: 0, RV: 3.1})
	if err != nil || tr != 1 {
		t.Fatalf("zero reddening transmission = %v, %v", tr, err)
	}

	tr, err = Transmission(CCM89{}, 1e4/1.82, Params{EBV: 1, RV: 2.5})
	if err != nil {
		t.Fatal(err)
	}
	if want := math.Pow(10, -1.0); math.Abs(tr-want) > 1e-12 {
		t.Fatalf("A=2.5 transmission = %v, want %v", tr, want)
	}
}

func TestParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatal(err)
	}
	if err := (Params{EBV: math.NaN(), RV: 3.1}).Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("NaN E(B-V): err = %v", err)
	}
	if err := (Params{EBV: 0.1, RV: math.Inf(1)}).Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("Inf R_V: err = %v", err)
	}
}

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		law, err := Lookup(name)
		if err != nil {
			t.Fatal(err)
		}
		if law.Name() != name {
			t.Errorf("Lookup(%q).Name() = %q", name, law.Name())
		}
	}

	if _, err := Lookup(" CCM89 "); err != nil {
		t.Errorf("lookup should be case-insensitive: %v", err)
	}
	if _, err := Lookup("f99"); !errors.Is(err, ErrUnknownLaw) {
		t.Errorf("unknown law: err = %v", err)
	}
}
