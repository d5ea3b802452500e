package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-dust/align"
	"github.com/cwbudde/algo-dust/correct"
	"github.com/cwbudde/algo-dust/diagnostics"
	"github.com/cwbudde/algo-dust/extinction"
	"github.com/cwbudde/algo-dust/fit"
	"github.com/cwbudde/algo-dust/internal/logger"
	"github.com/cwbudde/algo-dust/spectrum"
)

// ErrNilLaw is returned by NewRunner without an extinction law.
var ErrNilLaw = errors.New("batch: nil extinction law")

// Job is one quasar: an observed spectrum and its unreddened template.
type Job struct {
	Name     string
	Observed *spectrum.Spectrum
	// Template is in the rest frame of the source.
	Template *spectrum.Spectrum
	// Redshift moves the observed spectrum to the template frame for the
	// fit; the correction stays on the observed grid.
	Redshift float64
	// Initial is the starting guess; the zero value means
	// extinction.DefaultParams.
	Initial extinction.Params
}

// Outcome holds everything produced for one Job. Err is set when the job
// failed structurally; the other fields are then partially filled.
type Outcome struct {
	Name       string
	Pair       *align.AlignedPair
	Result     *fit.Result
	Dereddened *correct.Dereddened
	Report     diagnostics.Report
	Duration   time.Duration
	Err        error
}

// Option configures a Runner.
type Option func(*config)

type config struct {
	workers    int
	alignOpts  []align.Option
	fitOpts    []fit.Option
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithWorkers bounds the number of concurrent jobs. Values < 1 select
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(cfg *config) {
		cfg.workers = n
	}
}

// WithAlignOptions configures the aligner shared by all jobs.
func WithAlignOptions(opts ...align.Option) Option {
	return func(cfg *config) {
		cfg.alignOpts = append(cfg.alignOpts, opts...)
	}
}

// WithFitOptions configures the fitter shared by all jobs.
func WithFitOptions(opts ...fit.Option) Option {
	return func(cfg *config) {
		cfg.fitOpts = append(cfg.fitOpts, opts...)
	}
}

// WithLogger sets the job logger. Without it the logger of the Run context
// is used.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) {
		cfg.logger = l
	}
}

// WithRegisterer registers the runner metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(cfg *config) {
		cfg.registerer = reg
	}
}

// Runner aligns, fits and corrects many independent spectra in parallel.
// Each job owns its aligned pair and result; only the immutable aligner,
// fitter and corrector are shared.
type Runner struct {
	law       extinction.Law
	aligner   *align.Aligner
	fitter    *fit.Fitter
	corrector *correct.Corrector
	workers   int
	logger    *zap.Logger
	metrics   *metrics
}

// NewRunner creates a runner for law.
func NewRunner(law extinction.Law, opts ...Option) (*Runner, error) {
	if law == nil {
		return nil, ErrNilLaw
	}

	var cfg config
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if cfg.workers < 1 {
		cfg.workers = runtime.GOMAXPROCS(0)
	}

	m := newMetrics()
	if err := m.register(cfg.registerer); err != nil {
		return nil, fmt.Errorf("batch: registering metrics: %w", err)
	}

	return &Runner{
		law:       law,
		aligner:   align.NewAligner(cfg.alignOpts...),
		fitter:    fit.NewFitter(fit.NewConfig(cfg.fitOpts...)),
		corrector: correct.NewCorrector(law),
		workers:   cfg.workers,
		logger:    cfg.logger,
		metrics:   m,
	}, nil
}

// Workers returns the concurrency limit.
func (r *Runner) Workers() int { return r.workers }

// Run processes jobs with at most Workers() in flight and returns one
// Outcome per job, in input order. Job failures are recorded in their
// Outcome. Cancelling ctx stops scheduling new jobs; jobs that never
// started get ctx's error and Run returns it.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Outcome, error) {
	outcomes := make([]Outcome, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i := range jobs {
		if err := gctx.Err(); err != nil {
			for j := i; j < len(jobs); j++ {
				outcomes[j] = Outcome{Name: jobs[j].Name, Err: err}
			}

			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = Outcome{Name: jobs[i].Name, Err: err}
				return err
			}

			outcomes[i] = r.Process(gctx, jobs[i])

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}

	return outcomes, ctx.Err()
}

// Process runs a single job synchronously.
func (r *Runner) Process(ctx context.Context, job Job) Outcome {
	log := r.logger
	if log == nil {
		log = logger.Get(ctx)
	}

	log = log.With(zap.String("job", job.Name))

	start := time.Now()
	out := r.process(job)
	out.Duration = time.Since(start)

	r.metrics.duration.Observe(out.Duration.Seconds())

	if out.Err != nil {
		r.metrics.fits.WithLabelValues(statusError).Inc()
		log.Warn("job failed", zap.Error(out.Err))

		return out
	}

	status := statusConverged
	if !out.Result.Converged {
		status = statusNotConverged
	}

	r.metrics.fits.WithLabelValues(status).Inc()
	r.metrics.iterations.Observe(float64(out.Result.Iterations))
	r.metrics.chiSquare.Observe(out.Result.ReducedChiSquare)

	fields := []zap.Field{
		zap.Float64("ebv", out.Result.Params.EBV),
		zap.Float64("rv", out.Result.Params.RV),
		zap.Float64("reduced_chi2", out.Result.ReducedChiSquare),
		zap.Bool("converged", out.Result.Converged),
		zap.Int("iterations", out.Result.Iterations),
		zap.Duration("duration", out.Duration),
	}

	if len(out.Report.Flags) > 0 {
		fields = append(fields, zap.Stringers("flags", out.Report.Flags))
	}

	log.Info("job done", fields...)

	return out
}

func (r *Runner) process(job Job) Outcome {
	out := Outcome{Name: job.Name}

	if job.Observed == nil || job.Template == nil {
		out.Err = fmt.Errorf("batch: job %q: missing spectrum", job.Name)
		return out
	}

	observed := job.Observed
	if job.Redshift != 0 {
		rest, err := observed.RestFrame(job.Redshift)
		if err != nil {
			out.Err = err
			return out
		}

		observed = rest
	}

	pair, err := r.aligner.Align(observed, job.Template)
	if err != nil {
		out.Err = err
		return out
	}

	out.Pair = pair

	initial := job.Initial
	if initial == (extinction.Params{}) {
		initial = extinction.DefaultParams()
	}

	res, err := r.fitter.Fit(pair, r.law, initial)
	if err != nil {
		out.Err = err
		out.Report = diagnostics.Summarize(nil, pair, nil)

		return out
	}

	out.Result = res

	der, err := r.corrector.CorrectFit(job.Observed, res, correct.WithRedshift(job.Redshift))
	if err != nil {
		out.Err = err
		out.Report = diagnostics.Summarize(res, pair, nil)

		return out
	}

	out.Dereddened = der
	out.Report = diagnostics.Summarize(res, pair, der)

	return out
}
