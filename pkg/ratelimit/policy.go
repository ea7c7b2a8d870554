package ratelimit

import (
	"math/rand"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/client"
)

// Policy describes the cool-down applied after a failure of one error class.
type Policy struct {
	// Cooldown is the base pause. Zero means the class never pauses the pool.
	Cooldown time.Duration

	// Jitter spreads the pause by ±Jitter (0.2 = ±20%).
	Jitter float64

	// HonorRetryAfter lets a server-sent Retry-After lengthen the pause.
	HonorRetryAfter bool
}

// Policies maps error classes to their cool-down policy.
type Policies map[client.ErrorClass]Policy

// DefaultPolicies returns the default table: a fixed 20s pause for
// throttling, a short jittered pause for 5xx responses, nothing otherwise.
func DefaultPolicies() Policies {
	return Policies{
		client.ErrorClassRateLimit: {
			Cooldown:        20 * time.Second,
			HonorRetryAfter: true,
		},
		client.ErrorClassServer: {
			Cooldown: 5 * time.Second,
			Jitter:   0.2,
		},
	}
}

// For returns the policy for class; unknown classes get the zero Policy.
func (p Policies) For(class client.ErrorClass) Policy {
	return p[class]
}

// Duration returns the pause for one failure. retryAfter is the
// server-requested delay, or 0.
func (p Policy) Duration(retryAfter time.Duration) time.Duration {
	if p.Cooldown <= 0 {
		return 0
	}

	d := p.Cooldown
	if p.Jitter > 0 {
		d = time.Duration(float64(d) * (1 - p.Jitter + rand.Float64()*2*p.Jitter))
	}
	if p.HonorRetryAfter && retryAfter > d {
		d = retryAfter
	}
	return d
}
