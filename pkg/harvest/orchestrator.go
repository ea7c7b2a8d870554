package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/collector"
	"github.com/Sternrassler/rmp-harvest/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harvest_batches_total",
	Help: "Total batches dispatched by job",
}, []string{"job"})

// Result summarizes a harvest run. The rows themselves live in the collector.
type Result struct {
	Job        string
	Items      int
	Batches    int
	Records    int
	Added      int
	Duplicates int
	Failed     []Item
	Errors     []*pagination.UnitError
	Duration   time.Duration
}

// Orchestrator feeds items to the dispatcher in fixed-size windows and
// merges every window into one collector.
type Orchestrator struct {
	dispatcher *pagination.Dispatcher
	collector  *collector.Collector
	batchSize  int
	progress   pagination.Progress
	logger     zerolog.Logger
}

// NewOrchestrator creates an orchestrator. progress may be nil.
func NewOrchestrator(d *pagination.Dispatcher, c *collector.Collector, batchSize int, progress pagination.Progress, logger zerolog.Logger) *Orchestrator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Orchestrator{
		dispatcher: d,
		collector:  c,
		batchSize:  batchSize,
		progress:   progress,
		logger:     logger,
	}
}

// Run processes items with job. Unit failures are reported in the result;
// the returned error is reserved for collector failures. When ctx is
// cancelled, the items of windows that never ran are reported as failed.
func (o *Orchestrator) Run(ctx context.Context, items []Item, job Job) (*Result, error) {
	start := time.Now()
	res := &Result{Job: job.Name(), Items: len(items)}
	total := (len(items) + o.batchSize - 1) / o.batchSize
	duplicatesBefore := o.collector.Duplicates()

	for lo := 0; lo < len(items); lo += o.batchSize {
		hi := lo + o.batchSize
		if hi > len(items) {
			hi = len(items)
		}
		window := items[lo:hi]

		if err := ctx.Err(); err != nil {
			o.logger.Warn().
				Err(err).
				Int("remaining", len(items)-lo).
				Msg("Run cancelled, remaining items marked failed")
			res.Failed = append(res.Failed, items[lo:]...)
			break
		}

		o.logger.Info().
			Str("job", job.Name()).
			Int("batch", res.Batches+1).
			Int("batches", total).
			Int("items", len(window)).
			Msg("Starting batch")

		units := make([]pagination.Unit, len(window))
		for i, item := range window {
			units[i] = job.Unit(item)
		}
		report := o.dispatcher.Run(ctx, units, o.progress)
		res.Batches++
		batchesTotal.WithLabelValues(job.Name()).Inc()

		records := report.Records()
		res.Records += len(records)
		added, err := o.collector.Add(ctx, records...)
		res.Added += added
		if err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("collect batch %d: %w", res.Batches, err)
		}

		for i, outcome := range report.Outcomes {
			if outcome.Failed() {
				res.Failed = append(res.Failed, window[i])
				res.Errors = append(res.Errors, outcome.Err)
			}
		}
	}

	res.Duplicates = o.collector.Duplicates() - duplicatesBefore
	res.Duration = time.Since(start)

	o.logger.Info().
		Str("job", job.Name()).
		Int("items", res.Items).
		Int("batches", res.Batches).
		Int("records", res.Records).
		Int("rows", res.Added).
		Int("duplicates", res.Duplicates).
		Int("failed", len(res.Failed)).
		Dur("duration", res.Duration).
		Msg("Harvest complete")

	return res, nil
}
