package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/graphql"
	"github.com/sony/gobreaker"
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents throttling: HTTP 429 or a GraphQL
	// error message that says so.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents a deadline exceeded while waiting.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassMalformed represents a response body of unexpected shape.
	ErrorClassMalformed ErrorClass = "malformed"

	// ErrorClassCircuitOpen represents a request refused by the open breaker.
	ErrorClassCircuitOpen ErrorClass = "circuit_open"

	// ErrorClassUnknown is used for anything else.
	ErrorClassUnknown ErrorClass = "unknown"
)

// RequestError is a classified request failure.
type RequestError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error

	// RetryAfter is the server-requested delay, when one was sent.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v", e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// ClassOf classifies any error produced while talking to the service.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.Class != "" {
		return reqErr.Class
	}

	var svcErr *graphql.ServiceError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrorClassCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTimeout
	case errors.Is(err, graphql.ErrMalformed):
		return ErrorClassMalformed
	case errors.As(err, &svcErr):
		if svcErr.RateLimited() {
			return ErrorClassRateLimit
		}
		return ErrorClassMalformed
	case errors.Is(err, context.Canceled):
		return ErrorClassTimeout
	}
	return ErrorClassUnknown
}

// classifyStatus maps an HTTP status code to an ErrorClass.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
