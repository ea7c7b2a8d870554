// Package probe decides whether a resource id is worth paginating by
// fetching its canonical page once and looking for the service's
// "not found" and "no data yet" markers.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Sternrassler/rmp-harvest/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harvest_probes_total",
	Help: "Total validity probes by verdict",
}, []string{"verdict"})

// Verdict is the outcome of a probe.
type Verdict int

const (
	// Valid means neither negative marker was found
	Valid Verdict = iota
	// NotFound means the service reports the id does not exist
	NotFound
	// NoData means the resource exists but has nothing to harvest yet
	NoData
)

// String returns the verdict label.
func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case NotFound:
		return "not_found"
	case NoData:
		return "no_data"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Valid reports whether the resource should be paginated.
func (v Verdict) Valid() bool {
	return v == Valid
}

// Fetcher fetches a canonical page. *client.Client satisfies it.
type Fetcher interface {
	Page(ctx context.Context, path string) ([]byte, error)
}

// Config holds the page location and the two negative markers.
type Config struct {
	// PathFormat locates the canonical page of an id (fmt verb %d)
	PathFormat string

	// NotFoundMarker appears in the body of unknown ids
	NotFoundMarker string

	// NoDataMarker appears in the body of resources without data
	NoDataMarker string
}

// DefaultConfig returns the school page probe.
func DefaultConfig() Config {
	return Config{
		PathFormat:     "/school/%d",
		NotFoundMarker: "We couldn&#x27;t find the school you were looking for",
		NoDataMarker:   "have any ratings yet",
	}
}

// Prober classifies resource ids.
type Prober struct {
	fetcher Fetcher
	cfg     Config
	logger  zerolog.Logger
}

// New creates a prober.
func New(fetcher Fetcher, cfg Config, logger zerolog.Logger) (*Prober, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if !strings.Contains(cfg.PathFormat, "%d") {
		return nil, fmt.Errorf("path format %q must contain %%d", cfg.PathFormat)
	}
	if cfg.NotFoundMarker == "" && cfg.NoDataMarker == "" {
		return nil, fmt.Errorf("at least one marker is required")
	}
	return &Prober{fetcher: fetcher, cfg: cfg, logger: logger}, nil
}

// Probe fetches the page for id and classifies it. A 404 counts as not
// found; any other failure is returned so the caller can fail the unit
// instead of silently skipping the id.
func (p *Prober) Probe(ctx context.Context, id int) (Verdict, error) {
	path := fmt.Sprintf(p.cfg.PathFormat, id)

	body, err := p.fetcher.Page(ctx, path)
	if err != nil {
		var reqErr *client.RequestError
		if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound {
			return p.record(id, NotFound), nil
		}
		return Valid, fmt.Errorf("probe %s: %w", path, err)
	}

	return p.record(id, Classify(body, p.cfg)), nil
}

func (p *Prober) record(id int, v Verdict) Verdict {
	probesTotal.WithLabelValues(v.String()).Inc()
	p.logger.Debug().
		Int("resource_id", id).
		Str("verdict", v.String()).
		Msg("Probed resource")
	return v
}

// Classify applies the marker rules to a page body.
func Classify(body []byte, cfg Config) Verdict {
	if cfg.NotFoundMarker != "" && bytes.Contains(body, []byte(cfg.NotFoundMarker)) {
		return NotFound
	}
	if cfg.NoDataMarker != "" && bytes.Contains(body, []byte(cfg.NoDataMarker)) {
		return NoData
	}
	return Valid
}
