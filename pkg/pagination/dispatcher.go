package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/client"
	"github.com/Sternrassler/rmp-harvest/pkg/collector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for the worker pool.
var (
	unitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_units_total",
		Help: "Total units of work by status",
	}, []string{"status"}) // "success", "failed"

	unitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_unit_failures_total",
		Help: "Total failed units by error class",
	}, []string{"class"})

	unitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_unit_duration_seconds",
		Help:    "Duration of units of work",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	unitsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_units_in_flight",
		Help: "Units of work currently running",
	})
)

// ErrUnitTimeout marks a unit that exceeded its timeout.
var ErrUnitTimeout = errors.New("unit timed out")

// DispatcherConfig holds worker pool configuration.
type DispatcherConfig struct {
	// MaxConcurrency is the number of units run in parallel.
	// Kept small so the remote service does not start throttling.
	MaxConcurrency int

	// UnitTimeout bounds each unit
	UnitTimeout time.Duration

	// Grace is how long a timed-out unit may take to hand back its partial
	// records before it is abandoned
	Grace time.Duration

	// ProgressEvery logs progress every N completed units
	ProgressEvery int
}

// DefaultDispatcherConfig returns the default pool: 5 workers, 30s per unit.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxConcurrency: 5,
		UnitTimeout:    30 * time.Second,
		Grace:          2 * time.Second,
		ProgressEvery:  50,
	}
}

// UnitFunc performs one unit of work. It returns the records it gathered,
// also when it fails.
type UnitFunc func(ctx context.Context) ([]collector.Record, error)

// Unit is one independent unit of work identified by Key.
type Unit struct {
	Key string
	Run UnitFunc
}

// Backoff is the shared cool-down consulted by every worker.
// *ratelimit.Controller satisfies it.
type Backoff interface {
	Wait(ctx context.Context) error
	Observe(ctx context.Context, err error) time.Duration
}

// UnitError records why a unit failed.
type UnitError struct {
	Key   string
	Class client.ErrorClass
	Err   error
}

// Error implements the error interface.
func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %s failed (%s): %v", e.Key, e.Class, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UnitError) Unwrap() error {
	return e.Err
}

// Outcome is the result of one unit.
type Outcome struct {
	Index    int
	Key      string
	Records  []collector.Record
	Err      *UnitError
	Duration time.Duration
	TimedOut bool
}

// Failed reports whether the unit did not complete cleanly.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Report holds the outcomes of a dispatch, indexed by submission order.
type Report struct {
	Outcomes []Outcome
	Duration time.Duration
}

// Records returns every record from every unit, failed ones included,
// in submission order.
func (r *Report) Records() []collector.Record {
	n := 0
	for _, o := range r.Outcomes {
		n += len(o.Records)
	}
	out := make([]collector.Record, 0, n)
	for _, o := range r.Outcomes {
		out = append(out, o.Records...)
	}
	return out
}

// Failed returns the keys of failed units in submission order.
func (r *Report) Failed() []string {
	var keys []string
	for _, o := range r.Outcomes {
		if o.Failed() {
			keys = append(keys, o.Key)
		}
	}
	return keys
}

// Errors returns the failures in submission order.
func (r *Report) Errors() []*UnitError {
	var errs []*UnitError
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}

// Progress is called from the collecting goroutine after each unit.
type Progress func(done, total int, last Outcome)

// Dispatcher runs units on a bounded worker pool.
type Dispatcher struct {
	config  DispatcherConfig
	backoff Backoff
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher. backoff may be nil.
func NewDispatcher(config DispatcherConfig, backoff Backoff, logger zerolog.Logger) *Dispatcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	if config.UnitTimeout <= 0 {
		config.UnitTimeout = 30 * time.Second
	}
	if config.Grace < 0 {
		config.Grace = 0
	}
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = 50
	}

	return &Dispatcher{
		config:  config,
		backoff: backoff,
		logger:  logger,
	}
}

type job struct {
	index int
	unit  Unit
}

// Run executes units and waits for all of them. A failing unit never stops
// its siblings; every unit gets an outcome, including units that were never
// started because ctx was cancelled.
func (d *Dispatcher) Run(ctx context.Context, units []Unit, progress Progress) *Report {
	start := time.Now()
	report := &Report{Outcomes: make([]Outcome, len(units))}
	if len(units) == 0 {
		return report
	}

	workers := d.config.MaxConcurrency
	if workers > len(units) {
		workers = len(units)
	}

	d.logger.Info().
		Int("units", len(units)).
		Int("workers", workers).
		Dur("unit_timeout", d.config.UnitTimeout).
		Msg("Starting dispatch")

	queue := make(chan job, len(units))
	for i, u := range units {
		queue <- job{index: i, unit: u}
	}
	close(queue)

	results := make(chan Outcome, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go d.worker(ctx, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	done, failed := 0, 0
	for o := range results {
		report.Outcomes[o.Index] = o
		done++
		if o.Failed() {
			failed++
		}

		if progress != nil {
			progress(done, len(units), o)
		}
		if done%d.config.ProgressEvery == 0 {
			d.logger.Info().
				Int("done", done).
				Int("total", len(units)).
				Int("failed", failed).
				Float64("progress_pct", float64(done)/float64(len(units))*100).
				Msg("Dispatch progress")
		}
	}

	report.Duration = time.Since(start)
	d.logger.Info().
		Int("units", len(units)).
		Int("failed", failed).
		Dur("duration", report.Duration).
		Msg("Dispatch complete")

	return report
}

// worker processes units from the queue.
func (d *Dispatcher) worker(ctx context.Context, queue <-chan job, results chan<- Outcome, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for j := range queue {
		results <- d.execute(ctx, j)
		processed++
	}

	d.logger.Debug().
		Int("worker_id", workerID).
		Int("units_processed", processed).
		Msg("Worker completed")
}

type unitResult struct {
	records []collector.Record
	err     error
}

// execute runs one unit under its timeout and converts every failure into
// an outcome.
func (d *Dispatcher) execute(ctx context.Context, j job) Outcome {
	out := Outcome{Index: j.index, Key: j.unit.Key}
	start := time.Now()

	if d.backoff != nil {
		if err := d.backoff.Wait(ctx); err != nil {
			return d.finish(ctx, out, start, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return d.finish(ctx, out, start, err)
	}

	unitsInFlight.Inc()
	defer unitsInFlight.Dec()

	unitCtx, cancel := context.WithTimeout(ctx, d.config.UnitTimeout)
	defer cancel()

	done := make(chan unitResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- unitResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		records, err := j.unit.Run(unitCtx)
		done <- unitResult{records: records, err: err}
	}()

	var res unitResult
	overran := false
	select {
	case res = <-done:
	case <-unitCtx.Done():
		overran = true
		// The unit sees the cancellation too; give it a moment to return
		// what it already has.
		grace := time.NewTimer(d.config.Grace)
		select {
		case res = <-done:
		case <-grace.C:
			d.logger.Warn().
				Str("unit", j.unit.Key).
				Msg("Abandoning unit that ignored cancellation")
			res.err = unitCtx.Err()
		}
		grace.Stop()
	}
	out.Records = res.records

	// Past its deadline a unit fails even if it returned cleanly in the
	// grace window; its records are kept as partial data.
	if overran && errors.Is(unitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		out.TimedOut = true
		cause := res.err
		if cause == nil {
			cause = unitCtx.Err()
		}
		res.err = fmt.Errorf("%w after %s: %w", ErrUnitTimeout, d.config.UnitTimeout, cause)
	}

	return d.finish(ctx, out, start, res.err)
}

func (d *Dispatcher) finish(ctx context.Context, out Outcome, start time.Time, err error) Outcome {
	out.Duration = time.Since(start)
	unitDuration.Observe(out.Duration.Seconds())

	if err == nil {
		unitsTotal.WithLabelValues("success").Inc()
		return out
	}

	class := client.ClassOf(err)
	if out.TimedOut {
		class = client.ErrorClassTimeout
	}
	out.Err = &UnitError{Key: out.Key, Class: class, Err: err}
	unitsTotal.WithLabelValues("failed").Inc()
	unitFailures.WithLabelValues(string(class)).Inc()

	d.logger.Warn().
		Err(err).
		Str("unit", out.Key).
		Str("error_class", string(class)).
		Int("partial_records", len(out.Records)).
		Dur("duration", out.Duration).
		Msg("Unit failed")

	if d.backoff != nil && ctx.Err() == nil {
		d.backoff.Observe(ctx, err)
	}
	return out
}
