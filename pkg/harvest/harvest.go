// Package harvest runs the two harvest jobs: every professor of a range of
// schools, and every review of a list of professors. Items are dispatched in
// windows, and all windows feed one deduplicating collector.
package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/collector"
	"github.com/Sternrassler/rmp-harvest/pkg/pagination"
	"github.com/rs/zerolog"
)

// Harvester wires the jobs to the shared session and cool-down.
type Harvester struct {
	cfg     Config
	svc     Service
	backoff pagination.Backoff
	logger  zerolog.Logger
}

// New creates a harvester. backoff may be nil.
func New(cfg Config, svc Service, backoff pagination.Backoff, logger zerolog.Logger) (*Harvester, error) {
	if svc == nil {
		return nil, fmt.Errorf("service is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Harvester{cfg: cfg, svc: svc, backoff: backoff, logger: logger}, nil
}

// Professors collects the professors of every school id in [start, end).
func (h *Harvester) Professors(ctx context.Context, start, end int, c *collector.Collector, progress pagination.Progress) (*Result, error) {
	items, err := SchoolRange(start, end)
	if err != nil {
		return nil, err
	}
	job, err := NewProfessorsJob(h.svc, h.cfg, h.logger)
	if err != nil {
		return nil, err
	}
	return h.run(ctx, items, job, h.cfg.ProfessorTimeout, c, progress)
}

// Reviews collects the reviews of every listed professor.
func (h *Harvester) Reviews(ctx context.Context, items []Item, c *collector.Collector, progress pagination.Progress) (*Result, error) {
	job, err := NewReviewsJob(h.svc, h.cfg, h.logger)
	if err != nil {
		return nil, err
	}
	return h.run(ctx, items, job, h.cfg.ReviewTimeout, c, progress)
}

func (h *Harvester) run(ctx context.Context, items []Item, job Job, timeout time.Duration, c *collector.Collector, progress pagination.Progress) (*Result, error) {
	logger := h.logger.With().Str("job", job.Name()).Logger()
	d := pagination.NewDispatcher(h.cfg.dispatcherConfig(timeout), h.backoff, logger)
	return NewOrchestrator(d, c, h.cfg.BatchSize, progress, logger).Run(ctx, items, job)
}
