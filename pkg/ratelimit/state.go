// Package ratelimit implements the pool-wide cool-down that follows a
// throttling symptom. Failures are classified first, so only error classes
// with a configured policy pause the pool; the state can be mirrored in Redis
// so several harvester processes sharing one egress address back off together.
package ratelimit

import (
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/client"
)

// Redis key suffixes for shared cool-down state.
const (
	RedisKeyUntil = "until"
	RedisKeyClass = "class"
	RedisKeyTrips = "trips"
)

// DefaultKeyPrefix namespaces the Redis keys.
const DefaultKeyPrefix = "harvest:cooldown"

// CooldownState is the current cool-down of the pool.
type CooldownState struct {
	// Until is the instant before which no new work may start.
	Until time.Time `json:"until"`

	// Class is the error class of the trip that set Until.
	Class client.ErrorClass `json:"class"`

	// Trips counts how often a cool-down was triggered.
	Trips int64 `json:"trips"`

	// LastTrip is when the most recent trip happened.
	LastTrip time.Time `json:"last_trip"`
}

// Active reports whether the cool-down is still running at now.
func (s *CooldownState) Active(now time.Time) bool {
	return now.Before(s.Until)
}

// Remaining returns the duration until the cool-down ends.
// Returns 0 if it has already passed.
func (s *CooldownState) Remaining(now time.Time) time.Duration {
	d := s.Until.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Extend pushes Until to now+d unless it already lies further out.
// It reports whether Until moved.
func (s *CooldownState) Extend(class client.ErrorClass, d time.Duration, now time.Time) bool {
	s.Trips++
	s.LastTrip = now
	until := now.Add(d)
	if !until.After(s.Until) {
		return false
	}
	s.Until = until
	s.Class = class
	return true
}
