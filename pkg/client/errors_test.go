package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Sternrassler/rmp-harvest/pkg/graphql"
	"github.com/sony/gobreaker"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected ErrorClass
	}{
		{name: "too many requests", status: 429, expected: ErrorClassRateLimit},
		{name: "not found", status: 404, expected: ErrorClassClient},
		{name: "forbidden", status: 403, expected: ErrorClassClient},
		{name: "internal error", status: 500, expected: ErrorClassServer},
		{name: "unavailable", status: 503, expected: ErrorClassServer},
		{name: "ok", status: 200, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.expected {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "request error", err: &RequestError{StatusCode: 429, Class: ErrorClassRateLimit}, expected: ErrorClassRateLimit},
		{name: "wrapped request error", err: fmt.Errorf("page 2: %w", &RequestError{Class: ErrorClassNetwork}), expected: ErrorClassNetwork},
		{name: "deadline", err: context.DeadlineExceeded, expected: ErrorClassTimeout},
		{name: "cancelled", err: fmt.Errorf("page 3: %w", context.Canceled), expected: ErrorClassTimeout},
		{name: "malformed", err: &graphql.MalformedError{Path: "data", Reason: "missing"}, expected: ErrorClassMalformed},
		{name: "throttled graphql", err: &graphql.ServiceError{Messages: []string{"rate limit exceeded"}}, expected: ErrorClassRateLimit},
		{name: "other graphql", err: &graphql.ServiceError{Messages: []string{"bad field"}}, expected: ErrorClassMalformed},
		{name: "breaker open", err: gobreaker.ErrOpenState, expected: ErrorClassCircuitOpen},
		{name: "unknown", err: errors.New("boom"), expected: ErrorClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.expected {
				t.Errorf("ClassOf(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRequestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		reqErr   *RequestError
		expected string
	}{
		{
			name: "error with wrapped error",
			reqErr: &RequestError{
				Class:   ErrorClassNetwork,
				Message: "request failed",
				Err:     errors.New("connection refused"),
			},
			expected: "network error (status 0): request failed: connection refused",
		},
		{
			name: "error without wrapped error",
			reqErr: &RequestError{
				StatusCode: 429,
				Class:      ErrorClassRateLimit,
				Message:    "429 Too Many Requests",
			},
			expected: "rate_limit error (status 429): 429 Too Many Requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.reqErr.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestRequestError_Unwrap(t *testing.T) {
	wrappedErr := errors.New("wrapped error")
	reqErr := &RequestError{
		StatusCode: 500,
		Class:      ErrorClassServer,
		Message:    "server error",
		Err:        wrappedErr,
	}

	if reqErr.Unwrap() != wrappedErr {
		t.Errorf("Unwrap() = %v, want %v", reqErr.Unwrap(), wrappedErr)
	}
	if !errors.Is(reqErr, wrappedErr) {
		t.Error("errors.Is should work with wrapped error")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("20"); got.Seconds() != 20 {
		t.Errorf("parseRetryAfter(20) = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(empty) = %v", got)
	}
	if got := parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"); got != 0 {
		t.Errorf("parseRetryAfter(date) = %v", got)
	}
}
