// Package client provides the shared HTTP session used to talk to the remote
// GraphQL service, with request throttling, an optional circuit breaker,
// cool-down gating and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/graphql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Prometheus metrics for service requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_requests_total",
		Help: "Total service requests by kind and status",
	}, []string{"kind", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_request_duration_seconds",
		Help:    "Service request duration in seconds by kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	requestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_request_errors_total",
		Help: "Total failed service requests by error class",
	}, []string{"class"})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	})
)

// Request kinds used as metric labels.
const (
	kindGraphQL = "graphql"
	kindPage    = "page"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 64 << 20

// Config holds the client configuration.
type Config struct {
	// BaseURL is the service origin, e.g. "https://www.ratemyprofessors.com".
	BaseURL string

	// GraphQLPath is the path of the GraphQL endpoint below BaseURL.
	GraphQLPath string

	// Authorization is sent verbatim as the Authorization header.
	Authorization string

	// UserAgent header.
	UserAgent string

	// RequestTimeout bounds a single HTTP round-trip (0 disables).
	RequestTimeout time.Duration

	// Proactive throttling shared by every unit of work. Zero disables it.
	RequestsPerSecond float64
	Burst             int

	// BreakerFailures opens the circuit after this many consecutive failures.
	// Zero disables the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultConfig returns the configuration matching the public web client.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://www.ratemyprofessors.com",
		GraphQLPath:    "/graphql",
		Authorization:  "Basic dGVzdDp0ZXN0",
		UserAgent:      "rmp-harvest/0.1",
		RequestTimeout: 30 * time.Second,
		Burst:          1,
		BreakerTimeout: 30 * time.Second,
	}
}

// Client is the shared session. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	config     Config
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.GraphQLPath == "" {
		return nil, fmt.Errorf("graphql path is required")
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests_per_second must be >= 0 (got %v)", cfg.RequestsPerSecond)
	}
	if cfg.RequestTimeout < 0 {
		return nil, fmt.Errorf("request_timeout must be >= 0 (got %v)", cfg.RequestTimeout)
	}

	logger := log.With().Str("component", "client").Logger()

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    base,
		config:     cfg,
		logger:     logger,
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	if cfg.BreakerFailures > 0 {
		threshold := cfg.BreakerFailures
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "service",
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || ClassOf(err) == ErrorClassClient
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				breakerState.Set(float64(to))
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")
			},
		})
	}

	return c, nil
}

// Query posts a GraphQL request and returns the raw response body.
func (c *Client) Query(ctx context.Context, q graphql.Request) ([]byte, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode graphql request: %w", err)
	}

	endpoint := c.baseURL.JoinPath(c.config.GraphQLPath).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, kindGraphQL)
}

// Page fetches a document below BaseURL, e.g. "/school/298".
func (c *Client) Page(ctx context.Context, path string) ([]byte, error) {
	target := c.baseURL.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*")

	return c.do(req, kindPage)
}

// do throttles and executes a request, returning the body of a 2xx/3xx response.
func (c *Client) do(req *http.Request, kind string) ([]byte, error) {
	ctx := req.Context()

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(kind).Observe(time.Since(startTime).Seconds())
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.fail(&RequestError{Class: ErrorClassTimeout, Message: "waiting for request slot", Err: err})
		}
	}

	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if c.config.Authorization != "" {
		req.Header.Set("Authorization", c.config.Authorization)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("kind", kind).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("Executing request")

	if c.breaker == nil {
		body, err := c.execute(req, kind)
		if err != nil {
			return body, c.fail(err)
		}
		return body, nil
	}

	var failedBody []byte
	result, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.execute(req, kind)
		if err != nil {
			failedBody = body
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &RequestError{Class: ErrorClassCircuitOpen, Message: "circuit open", Err: err}
		}
		return failedBody, c.fail(err)
	}
	return result.([]byte), nil
}

// execute performs one round-trip. On HTTP errors the body is returned along with the error.
func (c *Client) execute(req *http.Request, kind string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		class := ErrorClassNetwork
		var netErr net.Error
		if req.Context().Err() != nil || errors.Is(err, context.DeadlineExceeded) ||
			(errors.As(err, &netErr) && netErr.Timeout()) {
			class = ErrorClassTimeout
		}
		requestsTotal.WithLabelValues(kind, "network_error").Inc()
		return nil, &RequestError{Class: class, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		requestsTotal.WithLabelValues(kind, "read_error").Inc()
		return nil, &RequestError{StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Message: "read body", Err: err}
	}
	requestsTotal.WithLabelValues(kind, status).Inc()

	if resp.StatusCode >= 400 {
		reqErr := &RequestError{
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    resp.Status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		c.logger.Debug().
			Str("kind", kind).
			Int("status", resp.StatusCode).
			Str("error_class", string(reqErr.Class)).
			Msg("Service returned error status")
		return body, reqErr
	}

	return body, nil
}

func (c *Client) fail(err error) error {
	requestErrorsTotal.WithLabelValues(string(ClassOf(err))).Inc()
	return err
}

// parseRetryAfter reads a delay-seconds Retry-After value.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
