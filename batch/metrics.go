package batch

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusConverged    = "converged"
	statusNotConverged = "not_converged"
	statusError        = "error"
)

type metrics struct {
	fits       *prometheus.CounterVec
	iterations prometheus.Histogram
	chiSquare  prometheus.Histogram
	duration   prometheus.Histogram
}

func newMetrics() *metrics {
	return &metrics{
		fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unred_fits_total",
			Help: "Processed de-reddening jobs by outcome.",
		}, []string{"status"}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "unred_fit_iterations",
			Help:    "Levenberg-Marquardt iterations per fit.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9),
		}),
		chiSquare: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "unred_fit_reduced_chi_square",
			Help:    "Reduced chi-square at the best fit.",
			Buckets: []float64{0.25, 0.5, 0.8, 1, 1.25, 2, 5, 10, 100},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "unred_job_duration_seconds",
			Help:    "Wall time of one align, fit and correct job.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

// register adds the collectors to reg. Collectors already registered by an
// earlier runner are reused so several runners can share one registry.
func (m *metrics) register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}

	var err error

	m.fits, err = registerOrReuse(reg, m.fits)
	if err != nil {
		return err
	}

	m.iterations, err = registerOrReuse(reg, m.iterations)
	if err != nil {
		return err
	}

	m.chiSquare, err = registerOrReuse(reg, m.chiSquare)
	if err != nil {
		return err
	}

	m.duration, err = registerOrReuse(reg, m.duration)

	return err
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}

	return c, err
}
