package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for cool-down tracking.
var (
	cooldownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_cooldowns_total",
		Help: "Total cool-downs triggered by error class",
	}, []string{"class"})

	cooldownSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_cooldown_seconds",
		Help:    "Cool-down duration by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"class"})

	cooldownWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_cooldown_waits_total",
		Help: "Total number of times work paused for an active cool-down",
	})
)

// Config holds controller configuration.
type Config struct {
	// Policies maps error classes to cool-downs. Nil means DefaultPolicies.
	Policies Policies

	// Redis, when set, shares the cool-down between processes.
	Redis *redis.Client

	// KeyPrefix namespaces the Redis keys (default DefaultKeyPrefix).
	KeyPrefix string

	// SyncInterval bounds how often Redis is read (default 1s).
	SyncInterval time.Duration
}

// Controller is the single shared backoff controller of a harvest run.
// It satisfies pagination.Backoff.
type Controller struct {
	mu       sync.Mutex
	state    CooldownState
	lastSync time.Time

	policies     Policies
	redis        *redis.Client
	prefix       string
	syncInterval time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// NewController creates a new cool-down controller.
func NewController(cfg Config, logger zerolog.Logger) *Controller {
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = time.Second
	}

	return &Controller{
		policies:     cfg.Policies,
		redis:        cfg.Redis,
		prefix:       cfg.KeyPrefix,
		syncInterval: cfg.SyncInterval,
		logger:       logger,
		now:          time.Now,
	}
}

func (c *Controller) key(suffix string) string {
	return c.prefix + ":" + suffix
}

// Observe classifies a unit failure and trips the cool-down when the class
// has a policy. It returns the pause that was applied, 0 if none.
func (c *Controller) Observe(ctx context.Context, err error) time.Duration {
	if err == nil {
		return 0
	}

	class := client.ClassOf(err)
	var retryAfter time.Duration
	var reqErr *client.RequestError
	if errors.As(err, &reqErr) {
		retryAfter = reqErr.RetryAfter
	}

	d := c.policies.For(class).Duration(retryAfter)
	if d <= 0 {
		c.logger.Debug().
			Str("error_class", string(class)).
			Msg("Failure does not trigger cool-down")
		return 0
	}

	c.Trip(ctx, class, d)
	return d
}

// Trip starts (or extends) a pool-wide cool-down of d.
func (c *Controller) Trip(ctx context.Context, class client.ErrorClass, d time.Duration) {
	now := c.now()

	c.mu.Lock()
	extended := c.state.Extend(class, d, now)
	until := c.state.Until
	trips := c.state.Trips
	c.mu.Unlock()

	cooldownsTotal.WithLabelValues(string(class)).Inc()
	cooldownSeconds.WithLabelValues(string(class)).Observe(d.Seconds())

	c.logger.Warn().
		Str("error_class", string(class)).
		Dur("cooldown", d).
		Time("until", until).
		Int64("trips", trips).
		Bool("extended", extended).
		Msg("Cool-down triggered, pausing new work")

	if c.redis == nil || !extended {
		return
	}

	pipe := c.redis.Pipeline()
	pipe.Set(ctx, c.key(RedisKeyUntil), until.UnixMilli(), d)
	pipe.Set(ctx, c.key(RedisKeyClass), string(class), d)
	pipe.Incr(ctx, c.key(RedisKeyTrips))
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to store cool-down state in redis")
	}
}

// State returns the current cool-down, merged with the shared Redis state.
func (c *Controller) State(ctx context.Context) (CooldownState, error) {
	now := c.now()

	c.mu.Lock()
	needSync := c.redis != nil && now.Sub(c.lastSync) >= c.syncInterval
	if needSync {
		c.lastSync = now
	}
	c.mu.Unlock()

	if needSync {
		shared, err := c.loadShared(ctx)
		if err != nil {
			return c.snapshot(), fmt.Errorf("load cool-down state: %w", err)
		}
		if shared != nil {
			c.mu.Lock()
			if shared.Until.After(c.state.Until) {
				c.state.Until = shared.Until
				c.state.Class = shared.Class
			}
			c.mu.Unlock()
		}
	}

	return c.snapshot(), nil
}

func (c *Controller) snapshot() CooldownState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) loadShared(ctx context.Context) (*CooldownState, error) {
	untilStr, err := c.redis.Get(ctx, c.key(RedisKeyUntil)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get until: %w", err)
	}
	untilMs, err := strconv.ParseInt(untilStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse until: %w", err)
	}

	class, err := c.redis.Get(ctx, c.key(RedisKeyClass)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get class: %w", err)
	}

	return &CooldownState{
		Until: time.UnixMilli(untilMs),
		Class: client.ErrorClass(class),
	}, nil
}

// Wait blocks while a cool-down is active. Cool-downs extended during the
// wait are honored.
func (c *Controller) Wait(ctx context.Context) error {
	waited := false
	for {
		state, err := c.State(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Using local cool-down state")
		}

		remaining := state.Remaining(c.now())
		if remaining <= 0 {
			return nil
		}

		if !waited {
			waited = true
			cooldownWaitsTotal.Inc()
			c.logger.Debug().
				Str("error_class", string(state.Class)).
				Dur("remaining", remaining).
				Msg("Waiting for cool-down")
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("cool-down wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
