// Package asciispec reads and writes spectra as whitespace-separated text
// columns:
//
//	# unit: angstrom
//	wavelength  flux  [sigma  [mask]]
//
// Lines starting with '#' are comments; a "# unit:" comment sets the
// wavelength unit. The third column is the 1-sigma flux error (or the
// variance with [WithVarianceColumn]); a missing, non-finite or negative
// error marks the sample invalid. The fourth column is 1 for good samples
// and 0 for masked ones.
package asciispec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cwbudde/algo-dust/internal/numeric"
	"github.com/cwbudde/algo-dust/spectrum"
)

// ErrSyntax is matched by every *ParseError.
var ErrSyntax = errors.New("asciispec: syntax error")

// ParseError locates a malformed input line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("asciispec: line %d: %s", e.Line, e.Msg)
}

func (e *ParseError) Is(target error) bool { return target == ErrSyntax }

// Option configures Read.
type Option func(*config)

type config struct {
	unit           spectrum.Unit
	varianceColumn bool
}

// WithUnit sets the unit used when the input has no "# unit:" comment.
func WithUnit(u spectrum.Unit) Option {
	return func(cfg *config) {
		if u.Valid() {
			cfg.unit = u
		}
	}
}

// WithVarianceColumn reads the third column as variance instead of sigma.
func WithVarianceColumn() Option {
	return func(cfg *config) {
		cfg.varianceColumn = true
	}
}

// ReadFile reads the spectrum stored at path.
func ReadFile(path string, opts ...Option) (*spectrum.Spectrum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("asciispec: %w", err)
	}
	defer f.Close()

	s, err := Read(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return s, nil
}

// Read parses a spectrum from r.
//
//nolint:funlen,cyclop
func Read(r io.Reader, opts ...Option) (*spectrum.Spectrum, error) {
	cfg := config{unit: spectrum.UnitAngstrom}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	var (
		wave, flux, variance []float64
		mask                 []bool
		line                 int
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++

		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "#") {
			if name, ok := unitDirective(text); ok {
				u, err := spectrum.ParseUnit(name)
				if err != nil {
					return nil, &ParseError{Line: line, Msg: err.Error()}
				}

				cfg.unit = u
			}

			continue
		}

		fields := strings.Fields(text)
		if len(fields) < 2 || len(fields) > 4 {
			return nil, &ParseError{Line: line, Msg: fmt.Sprintf("want 2 to 4 columns, got %d", len(fields))}
		}

		values := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, &ParseError{Line: line, Msg: fmt.Sprintf("column %d: %v", i+1, err)}
			}

			values[i] = v
		}

		good := true
		v := 0.0

		if len(values) >= 3 {
			v = values[2]
			if !cfg.varianceColumn {
				v *= v
			}

			if !numeric.IsFinite(values[2]) || values[2] < 0 {
				good, v = false, 0
			}
		} else {
			good = false
		}

		if len(values) == 4 && values[3] == 0 {
			good = false
		}

		if !numeric.IsFinite(values[1]) {
			good = false
		}

		wave = append(wave, values[0])
		flux = append(flux, values[1])
		variance = append(variance, v)
		mask = append(mask, good)
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("asciispec: %w", err)
	}

	return spectrum.New(wave, flux, variance, cfg.unit, spectrum.WithMask(mask))
}

func unitDirective(comment string) (string, bool) {
	body := strings.TrimSpace(strings.TrimPrefix(comment, "#"))

	key, value, ok := strings.Cut(body, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(key), "unit") {
		return "", false
	}

	return strings.TrimSpace(value), true
}

// Write stores s in the four-column format with sigma in the third column.
// Extra comment lines are emitted after the unit header.
func Write(w io.Writer, s *spectrum.Spectrum, comments ...string) error {
	bw := bufio.NewWriter(w)

	if _, err := fmt.Fprintf(bw, "# unit: %s\n", s.Unit()); err != nil {
		return fmt.Errorf("asciispec: %w", err)
	}

	for _, c := range comments {
		if _, err := fmt.Fprintf(bw, "# %s\n", c); err != nil {
			return fmt.Errorf("asciispec: %w", err)
		}
	}

	for i := range s.Len() {
		smp := s.At(i)

		good := 0
		if smp.Valid {
			good = 1
		}

		if _, err := fmt.Fprintf(bw, "%.6f %.10g %.10g %d\n",
			smp.Wavelength, smp.Flux, math.Sqrt(smp.Variance), good); err != nil {
			return fmt.Errorf("asciispec: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("asciispec: %w", err)
	}

	return nil
}

// WriteFile stores s at path, replacing any existing file.
func WriteFile(path string, s *spectrum.Spectrum, comments ...string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("asciispec: %w", err)
	}

	if err := Write(f, s, comments...); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("asciispec: %w", err)
	}

	return nil
}
