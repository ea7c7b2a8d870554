// Package metrics exposes the harvester's Prometheus metrics over HTTP.
// The metrics themselves are defined in their packages (client, ratelimit,
// pagination, dedup, probe, harvest) and registered via promauto.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Path is where the metrics are served.
const Path = "/metrics"

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Server serves /metrics until its context is cancelled.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// Listen binds addr (e.g. ":9090"; ":0" picks a free port).
func Listen(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(Path, Handler())

	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
		errCh <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	s.logger.Info().Msg("Metrics server stopped")
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - harvest_requests_total{kind, status} (Counter): Requests by kind (graphql, page) and HTTP status
//   - harvest_request_duration_seconds{kind} (Histogram): Request duration
//   - harvest_request_errors_total{class} (Counter): Failed requests by error class
//   - harvest_breaker_state (Gauge): Circuit breaker state (0 closed, 1 half-open, 2 open)
//
// Cool-down Metrics (pkg/ratelimit):
//   - harvest_cooldowns_total{class} (Counter): Cool-downs triggered by error class
//   - harvest_cooldown_seconds{class} (Histogram): Cool-down durations
//   - harvest_cooldown_waits_total (Counter): Units that paused for a cool-down
//
// Pagination Metrics (pkg/pagination):
//   - harvest_pages_total{query} (Counter): Pages fetched
//   - harvest_page_duration_seconds{query} (Histogram): Page round-trip duration
//   - harvest_records_total{kind} (Counter): Records yielded
//   - harvest_units_total{status} (Counter): Units by outcome
//   - harvest_unit_failures_total{class} (Counter): Failed units by error class
//   - harvest_unit_duration_seconds (Histogram): Unit duration
//   - harvest_units_in_flight (Gauge): Units currently running
//
// Dedup Metrics (pkg/dedup):
//   - harvest_dedup_new_total{backend} (Counter): Rows kept
//   - harvest_dedup_duplicates_total{backend} (Counter): Rows dropped as duplicates
//   - harvest_dedup_errors_total{backend, operation} (Counter): Key set errors
//
// Harvest Metrics (pkg/probe, pkg/harvest):
//   - harvest_probes_total{verdict} (Counter): Probe verdicts
//   - harvest_resources_skipped_total{verdict} (Counter): Resources skipped by the probe
//   - harvest_batches_total{job} (Counter): Batches dispatched
//
// Example Prometheus Queries:
//
//	# Unit failure rate by class
//	sum by (class) (rate(harvest_unit_failures_total[5m]))
//
//	# Duplicate ratio
//	sum(rate(harvest_dedup_duplicates_total[5m])) /
//	(sum(rate(harvest_dedup_duplicates_total[5m])) + sum(rate(harvest_dedup_new_total[5m])))
//
//	# Time spent cooling down
//	sum(rate(harvest_cooldown_seconds_sum[15m]))
