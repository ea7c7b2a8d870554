package graphql

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is matched by every MalformedError.
var ErrMalformed = errors.New("malformed response")

// MalformedError reports a response body that does not have the expected shape.
type MalformedError struct {
	Path   string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response at %q: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed response at %q: %s", e.Path, e.Reason)
}

// Is makes errors.Is(err, ErrMalformed) match.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *MalformedError) Unwrap() error {
	return e.Err
}

// ServiceError carries the errors[] array of a GraphQL response that has no data.
type ServiceError struct {
	Messages []string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return "graphql errors: " + strings.Join(e.Messages, "; ")
}

// RateLimited reports whether any message reads like a throttling response.
func (e *ServiceError) RateLimited() bool {
	for _, msg := range e.Messages {
		m := strings.ToLower(msg)
		if strings.Contains(m, "rate limit") || strings.Contains(m, "too many requests") {
			return true
		}
	}
	return false
}

// PageInfo is the connection's continuation state.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// Edge wraps one node of a connection.
type Edge struct {
	Node map[string]any `json:"node"`
}

// Connection is one page of a cursor-paginated list.
type Connection struct {
	Edges    []Edge
	PageInfo PageInfo
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// DecodeConnection extracts the connection found at data.<path> from body.
// Node values keep numbers as json.Number so they render exactly.
func DecodeConnection(body []byte, path ...string) (*Connection, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &MalformedError{Path: "$", Reason: "body is not JSON", Err: err}
	}

	if isNull(env.Data) {
		if len(env.Errors) > 0 {
			msgs := make([]string, 0, len(env.Errors))
			for _, e := range env.Errors {
				msgs = append(msgs, e.Message)
			}
			return nil, &ServiceError{Messages: msgs}
		}
		return nil, &MalformedError{Path: "data", Reason: "missing"}
	}

	raw := env.Data
	walked := "data"
	for _, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, &MalformedError{Path: walked, Reason: "not an object", Err: err}
		}
		next, ok := obj[key]
		walked += "." + key
		if !ok || isNull(next) {
			return nil, &MalformedError{Path: walked, Reason: "missing"}
		}
		raw = next
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &MalformedError{Path: walked, Reason: "not an object", Err: err}
	}

	edgesRaw, ok := fields["edges"]
	if !ok || isNull(edgesRaw) {
		return nil, &MalformedError{Path: walked + ".edges", Reason: "missing"}
	}
	pageRaw, ok := fields["pageInfo"]
	if !ok || isNull(pageRaw) {
		return nil, &MalformedError{Path: walked + ".pageInfo", Reason: "missing"}
	}

	conn := &Connection{}
	dec := json.NewDecoder(bytes.NewReader(edgesRaw))
	dec.UseNumber()
	if err := dec.Decode(&conn.Edges); err != nil {
		return nil, &MalformedError{Path: walked + ".edges", Reason: "not a list of edges", Err: err}
	}
	if err := json.Unmarshal(pageRaw, &conn.PageInfo); err != nil {
		return nil, &MalformedError{Path: walked + ".pageInfo", Reason: "invalid", Err: err}
	}

	return conn, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
