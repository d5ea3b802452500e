package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-dust/extinction"
	"github.com/cwbudde/algo-dust/internal/asciispec"
	tu "github.com/cwbudde/algo-dust/internal/testutil"
	"github.com/cwbudde/algo-dust/spectrum"
)

func run(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer

	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	require.NoError(t, root.Execute(), out.String())

	return out.String()
}

// writeQuasar writes a template and a reddened observation into dir.
func writeQuasar(t *testing.T, dir, name string, p extinction.Params) (string, string) {
	t.Helper()

	wave := tu.LinearGrid(1500, 9000, 300)
	tflux := tu.PowerLaw(wave, 10, 3000, -1.5)
	oflux := make([]float64, len(wave))

	for i, w := range wave {
		tr, err := extinction.Transmission(extinction.CCM89{}, w, p)
		require.NoError(t, err)

		oflux[i] = tflux[i] * tr
	}

	tmpl, err := spectrum.New(wave, tflux, tu.FractionalVariance(tflux, 1e-3), spectrum.UnitAngstrom)
	require.NoError(t, err)

	obs, err := spectrum.New(wave, oflux, tu.FractionalVariance(oflux, 0.01), spectrum.UnitAngstrom)
	require.NoError(t, err)

	obsPath := filepath.Join(dir, name+"_obs.txt")
	tmplPath := filepath.Join(dir, name+"_tmpl.txt")

	require.NoError(t, asciispec.WriteFile(obsPath, obs))
	require.NoError(t, asciispec.WriteFile(tmplPath, tmpl))

	return obsPath, tmplPath
}

func TestLawsCommand(t *testing.T) {
	out := run(t, "laws")

	for _, name := range extinction.Names() {
		require.Contains(t, out, name)
	}
}

func TestFitCommand(t *testing.T) {
	dir := t.TempDir()
	obs, tmpl := writeQuasar(t, dir, "q1", extinction.Params{EBV: 0.3, RV: 3.1})
	outPath := filepath.Join(dir, "q1_unred.txt")

	out := run(t, "fit", obs, tmpl, "-o", outPath)

	require.Contains(t, out, "E(B-V)")
	require.Contains(t, out, "0.3000")
	require.Contains(t, out, "reduced chi2")

	corrected, err := asciispec.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, 300, corrected.Len())

	body, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Contains(t, string(body), "# law: ccm89")
}

func TestFitCommandFixedRVAndLawFlag(t *testing.T) {
	dir := t.TempDir()
	obs, tmpl := writeQuasar(t, dir, "q2", extinction.Params{EBV: 0.2, RV: 3.1})

	out := run(t, "fit", obs, tmpl, "--fixed-rv", "3.1", "--law", "o94")

	require.Contains(t, out, "(fixed)")
}

func TestCorrectCommand(t *testing.T) {
	dir := t.TempDir()
	obs, _ := writeQuasar(t, dir, "q3", extinction.Params{EBV: 0.1, RV: 3.1})

	out := run(t, "correct", obs, "--ebv", "0.1", "--rv", "3.1")

	require.True(t, strings.HasPrefix(out, "# unit: angstrom"), out)
	require.Contains(t, out, "# E(B-V): 0.1")

	back, err := asciispec.Read(strings.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 300, back.Len())
}

func TestBatchCommand(t *testing.T) {
	dir := t.TempDir()
	writeQuasar(t, dir, "a", extinction.Params{EBV: 0.1, RV: 3.1})
	writeQuasar(t, dir, "b", extinction.Params{EBV: 0.5, RV: 3.1})

	manifest := filepath.Join(dir, "manifest.txt")
	require.NoError(t, os.WriteFile(manifest, []byte(
		"# name observed template\n"+
			"a a_obs.txt a_tmpl.txt\n"+
			"b b_obs.txt b_tmpl.txt 0\n"), 0o600))

	metrics := filepath.Join(dir, "unred.prom")
	outDir := filepath.Join(dir, "out")

	out := run(t, "batch", manifest, "-w", "2", "-o", outDir, "--metrics-file", metrics)

	require.Contains(t, out, "0.1000")
	require.Contains(t, out, "0.5000")

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	require.Contains(t, string(prom), "unred_fits_total")

	require.FileExists(t, filepath.Join(outDir, "a.txt"))
	require.FileExists(t, filepath.Join(outDir, "b.txt"))
}

func TestParseManifest(t *testing.T) {
	entries, err := parseManifest(strings.NewReader("q obs.txt /abs/tmpl.txt 2.5\n"), "/data")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Join("/data", "obs.txt"), entries[0].observed)
	require.Equal(t, "/abs/tmpl.txt", entries[0].template)
	require.InDelta(t, 2.5, entries[0].redshift, 0)

	_, err = parseManifest(strings.NewReader("q obs.txt\n"), ".")
	require.Error(t, err)

	_, err = parseManifest(strings.NewReader("q obs.txt tmpl.txt z\n"), ".")
	require.Error(t, err)
}
