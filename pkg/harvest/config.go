package harvest

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/pagination"
	"github.com/Sternrassler/rmp-harvest/pkg/probe"
)

//go:embed queries/professors.graphql
var defaultProfessorsQuery string

//go:embed queries/reviews.graphql
var defaultReviewsQuery string

// Default unit timeouts per job.
const (
	DefaultProfessorTimeout = 30 * time.Second
	DefaultReviewTimeout    = 20 * time.Second
)

// DefaultBatchSize bounds the number of items dispatched at once.
const DefaultBatchSize = 1_000_000

// Config holds harvest configuration.
type Config struct {
	// BatchSize is the window of items handed to the dispatcher at once
	BatchSize int

	// Workers is the dispatcher's concurrency ceiling
	Workers int

	// ProfessorTimeout bounds one school (probe plus pagination)
	ProfessorTimeout time.Duration

	// ReviewTimeout bounds one professor's review pagination
	ReviewTimeout time.Duration

	// Grace lets timed-out units hand back partial records
	Grace time.Duration

	// PageSize is the professors page size (reviews use the known count)
	PageSize int

	// MaxPageSize clamps every page size
	MaxPageSize int

	// MaxPages caps professor pages per school (0 = no cap)
	MaxPages int

	// Probe configures the school validity probe
	Probe probe.Config

	// ProfessorsQuery and ReviewsQuery override the embedded documents
	ProfessorsQuery string
	ReviewsQuery    string
}

// DefaultConfig returns the default harvest configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:        DefaultBatchSize,
		Workers:          5,
		ProfessorTimeout: DefaultProfessorTimeout,
		ReviewTimeout:    DefaultReviewTimeout,
		Grace:            2 * time.Second,
		PageSize:         pagination.DefaultMaxPageSize,
		MaxPageSize:      pagination.DefaultMaxPageSize,
		Probe:            probe.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0 (got %d)", c.Workers)
	}
	if c.ProfessorTimeout <= 0 || c.ReviewTimeout <= 0 {
		return fmt.Errorf("unit timeouts must be > 0")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be > 0 (got %d)", c.PageSize)
	}
	if c.MaxPageSize <= 0 {
		return fmt.Errorf("max_page_size must be > 0 (got %d)", c.MaxPageSize)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0 (got %d)", c.MaxPages)
	}
	return nil
}

func (c Config) dispatcherConfig(timeout time.Duration) pagination.DispatcherConfig {
	cfg := pagination.DefaultDispatcherConfig()
	cfg.MaxConcurrency = c.Workers
	cfg.UnitTimeout = timeout
	cfg.Grace = c.Grace
	return cfg
}

func (c Config) professorsDocument() string {
	if c.ProfessorsQuery != "" {
		return c.ProfessorsQuery
	}
	return defaultProfessorsQuery
}

func (c Config) reviewsDocument() string {
	if c.ReviewsQuery != "" {
		return c.ReviewsQuery
	}
	return defaultReviewsQuery
}
