package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/client"
	"github.com/Sternrassler/rmp-harvest/pkg/graphql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a test Redis client, skipping when none is reachable.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	rc := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := rc.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := rc.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		rc.FlushDB(context.Background())
		rc.Close()
	})
	return rc
}

func TestDefaultPolicies(t *testing.T) {
	p := DefaultPolicies()

	assert.Equal(t, 20*time.Second, p.For(client.ErrorClassRateLimit).Cooldown)
	assert.Equal(t, 5*time.Second, p.For(client.ErrorClassServer).Cooldown)
	assert.Zero(t, p.For(client.ErrorClassMalformed).Cooldown)
	assert.Zero(t, p.For(client.ErrorClassNetwork).Cooldown)
	assert.Zero(t, p.For(client.ErrorClassTimeout).Cooldown)
}

func TestPolicy_Duration(t *testing.T) {
	fixed := Policy{Cooldown: 20 * time.Second, HonorRetryAfter: true}
	assert.Equal(t, 20*time.Second, fixed.Duration(0))
	assert.Equal(t, 20*time.Second, fixed.Duration(5*time.Second))
	assert.Equal(t, time.Minute, fixed.Duration(time.Minute))

	ignoring := Policy{Cooldown: time.Second}
	assert.Equal(t, time.Second, ignoring.Duration(time.Minute))

	assert.Zero(t, Policy{}.Duration(time.Minute), "a class without cool-down ignores Retry-After")

	jittered := Policy{Cooldown: 10 * time.Second, Jitter: 0.2}
	for i := 0; i < 100; i++ {
		d := jittered.Duration(0)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 12*time.Second)
	}
}

func TestCooldownState(t *testing.T) {
	now := time.Now()
	var s CooldownState

	assert.False(t, s.Active(now))
	assert.Zero(t, s.Remaining(now))

	assert.True(t, s.Extend(client.ErrorClassRateLimit, 10*time.Second, now))
	assert.True(t, s.Active(now))
	assert.Equal(t, 10*time.Second, s.Remaining(now))

	assert.False(t, s.Extend(client.ErrorClassServer, time.Second, now), "shorter trip must not shorten the pause")
	assert.Equal(t, client.ErrorClassRateLimit, s.Class)
	assert.Equal(t, int64(2), s.Trips)

	assert.False(t, s.Active(now.Add(11*time.Second)))
}

func TestController_ObserveClassifies(t *testing.T) {
	policies := Policies{
		client.ErrorClassRateLimit: {Cooldown: time.Minute},
	}

	tests := []struct {
		name    string
		err     error
		tripped bool
	}{
		{name: "nil", err: nil, tripped: false},
		{name: "http 429", err: &client.RequestError{StatusCode: 429, Class: client.ErrorClassRateLimit}, tripped: true},
		{name: "wrapped throttle message", err: fmt.Errorf("page 3: %w", &graphql.ServiceError{Messages: []string{"rate limit"}}), tripped: true},
		{name: "malformed", err: &graphql.MalformedError{Path: "data", Reason: "missing"}, tripped: false},
		{name: "network", err: &client.RequestError{Class: client.ErrorClassNetwork}, tripped: false},
		{name: "timeout", err: context.DeadlineExceeded, tripped: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(Config{Policies: policies}, zerolog.Nop())

			d := c.Observe(context.Background(), tt.err)
			state, err := c.State(context.Background())
			require.NoError(t, err)

			if tt.tripped {
				assert.Equal(t, time.Minute, d)
				assert.True(t, state.Active(time.Now()))
			} else {
				assert.Zero(t, d)
				assert.False(t, state.Active(time.Now()))
			}
		})
	}
}

func TestController_ObserveHonorsRetryAfter(t *testing.T) {
	c := NewController(Config{Policies: Policies{
		client.ErrorClassRateLimit: {Cooldown: time.Second, HonorRetryAfter: true},
	}}, zerolog.Nop())

	d := c.Observe(context.Background(), &client.RequestError{Class: client.ErrorClassRateLimit, RetryAfter: 30 * time.Second})
	assert.Equal(t, 30*time.Second, d)
}

func TestController_WaitBlocksDuringCooldown(t *testing.T) {
	c := NewController(Config{}, zerolog.Nop())

	start := time.Now()
	require.NoError(t, c.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "no cool-down, no wait")

	c.Trip(context.Background(), client.ErrorClassRateLimit, 100*time.Millisecond)

	start = time.Now()
	require.NoError(t, c.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestController_WaitContextCancelled(t *testing.T) {
	c := NewController(Config{}, zerolog.Nop())
	c.Trip(context.Background(), client.ErrorClassRateLimit, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestController_ConcurrentTrips(t *testing.T) {
	c := NewController(Config{}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Trip(context.Background(), client.ErrorClassServer, time.Duration(i)*time.Millisecond)
		}(i)
	}
	wg.Wait()

	state, err := c.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20), state.Trips)
	assert.WithinDuration(t, state.LastTrip.Add(19*time.Millisecond), state.Until, 50*time.Millisecond)
}

func TestController_SharedThroughRedis(t *testing.T) {
	rc := setupTestRedis(t)

	cfg := Config{Redis: rc, KeyPrefix: "test:cooldown", SyncInterval: time.Millisecond}
	a := NewController(cfg, zerolog.Nop())
	b := NewController(cfg, zerolog.Nop())

	a.Trip(context.Background(), client.ErrorClassRateLimit, 150*time.Millisecond)

	state, err := b.State(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Active(time.Now()))
	assert.Equal(t, client.ErrorClassRateLimit, state.Class)

	start := time.Now()
	require.NoError(t, b.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
