package testutil

import (
	"math"
	"testing"
)

func TestLinearGrid(t *testing.T) {
	g := LinearGrid(1000, 2000, 11)
	if g[0] != 1000 || g[10] != 2000 || g[5] != 1500 {
		t.Fatalf("unexpected grid %v", g)
	}
	RequireIncreasing(t, g)
}

func TestPowerLaw(t *testing.T) {
	f := PowerLaw([]float64{1000, 2000}, 3, 1000, -1.5)
	if f[0] != 3 {
		t.Fatalf("f[0] = %v, want 3", f[0])
	}
	if want := 3 * math.Pow(2, -1.5); math.Abs(f[1]-want) > 1e-15 {
		t.Fatalf("f[1] = %v, want %v", f[1], want)
	}
}

func TestAddEmissionLine(t *testing.T) {
	w := LinearGrid(4800, 5000, 201)
	f := DC(1, len(w))
	AddEmissionLine(w, f, 4900, 5, 2)
	if math.Abs(f[100]-3) > 1e-12 {
		t.Fatalf("line peak = %v, want 3", f[100])
	}
	if math.Abs(f[0]-1) > 1e-12 {
		t.Fatalf("continuum = %v, want 1", f[0])
	}
}

func TestNoiseReproducible(t *testing.T) {
	a := DeterministicNoise(42, 1, 50)
	b := DeterministicNoise(42, 1, 50)
	RequireSliceNearlyEqual(t, a, b, 0)
	for i, v := range a {
		if v < -1 || v >= 1 {
			t.Fatalf("a[%d] = %v out of range", i, v)
		}
	}

	g1 := GaussianNoise(3, DC(0.5, 20))
	g2 := GaussianNoise(3, DC(0.5, 20))
	RequireSliceNearlyEqual(t, g1, g2, 0)
	RequireFinite(t, g1)
}

func TestFractionalVariance(t *testing.T) {
	v := FractionalVariance([]float64{2, -4}, 0.1)
	RequireSliceNearlyEqual(t, v, []float64{0.04, 0.16}, 1e-15)
}
