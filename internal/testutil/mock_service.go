// Package testutil provides testing utilities for the harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/graphql"
)

// MockResponse defines the behavior for one mock response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// GraphQLHandler answers one decoded GraphQL request.
type GraphQLHandler func(req graphql.Request) MockResponse

// MockService is a configurable mock of the remote service: one GraphQL
// endpoint at /graphql plus canonical resource pages.
type MockService struct {
	server  *httptest.Server
	mu      sync.RWMutex
	pages   map[string]MockResponse
	graphql GraphQLHandler

	// Tracking
	RequestCount      int
	GraphQLCount      int
	PageCount         int
	LastRequestHeader http.Header
	Queries           []graphql.Request
}

// NewMockService creates and starts a new mock service.
func NewMockService() *MockService {
	mock := &MockService{
		pages: make(map[string]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		if r.URL.Path == "/graphql" && r.Method == http.MethodPost {
			mock.serveGraphQL(w, r)
			return
		}

		mock.mu.Lock()
		mock.PageCount++
		resp, ok := mock.pages[r.URL.Path]
		mock.mu.Unlock()
		if !ok {
			resp = MockResponse{StatusCode: http.StatusNotFound, Body: "not found"}
		}
		write(w, r, resp)
	}))

	return mock
}

func (m *MockService) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	var req graphql.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.GraphQLCount++
	m.Queries = append(m.Queries, req)
	handler := m.graphql
	m.mu.Unlock()

	if handler == nil {
		write(w, r, MockResponse{StatusCode: http.StatusOK, Body: `{"data":null,"errors":[{"message":"no handler"}]}`})
		return
	}
	write(w, r, handler(req))
}

func write(w http.ResponseWriter, r *http.Request, resp MockResponse) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// URL returns the mock server URL.
func (m *MockService) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockService) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.GraphQLCount = 0
	m.PageCount = 0
	m.LastRequestHeader = nil
	m.Queries = nil
}

// SetGraphQL sets the handler for GraphQL requests.
func (m *MockService) SetGraphQL(handler GraphQLHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphql = handler
}

// SetPage configures the response for a page path such as "/school/42".
func (m *MockService) SetPage(path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[path] = resp
}

// GetGraphQLCount returns the number of GraphQL requests received.
func (m *MockService) GetGraphQLCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.GraphQLCount
}

// GetPageCount returns the number of page requests received.
func (m *MockService) GetPageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PageCount
}

// GetQueries returns a copy of the GraphQL requests received so far.
func (m *MockService) GetQueries() []graphql.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]graphql.Request, len(m.Queries))
	copy(out, m.Queries)
	return out
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockService) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

// ConnectionBody renders a GraphQL response with a connection nested at path.
func ConnectionBody(path []string, nodes []map[string]any, hasNext bool, endCursor string) string {
	edges := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		edges = append(edges, map[string]any{"node": n})
	}
	var cursor any
	if endCursor != "" {
		cursor = endCursor
	}

	var inner any = map[string]any{
		"edges": edges,
		"pageInfo": map[string]any{
			"hasNextPage": hasNext,
			"endCursor":   cursor,
		},
	}
	for i := len(path) - 1; i >= 0; i-- {
		inner = map[string]any{path[i]: inner}
	}

	body, err := json.Marshal(map[string]any{"data": inner})
	if err != nil {
		panic(err)
	}
	return string(body)
}

// PageCursor is the end cursor the Paged handler emits after page i (0-based).
func PageCursor(i int) string {
	return fmt.Sprintf("cursor-%d", i+1)
}

// Paged serves pages in order, keyed by the request's "cursor" variable:
// the empty cursor returns pages[0], PageCursor(i) returns pages[i+1].
func Paged(path []string, pages ...[]map[string]any) GraphQLHandler {
	return func(req graphql.Request) MockResponse {
		cursor, _ := req.Variables["cursor"].(string)
		idx := 0
		if cursor != "" {
			idx = -1
			for i := range pages {
				if PageCursor(i) == cursor {
					idx = i + 1
				}
			}
		}
		if idx < 0 || idx >= len(pages) {
			return MockResponse{StatusCode: http.StatusOK, Body: `{"data":null,"errors":[{"message":"unknown cursor"}]}`}
		}
		hasNext := idx < len(pages)-1
		end := ""
		if hasNext {
			end = PageCursor(idx)
		}
		return MockResponse{
			StatusCode: http.StatusOK,
			Body:       ConnectionBody(path, pages[idx], hasNext, end),
			Headers:    map[string]string{"Content-Type": "application/json"},
		}
	}
}

// Route dispatches GraphQL requests by a key extracted from each request.
// Requests with an unknown key get an empty final page at path.
func Route(path []string, key func(req graphql.Request) string, routes map[string]GraphQLHandler) GraphQLHandler {
	return func(req graphql.Request) MockResponse {
		if h, ok := routes[key(req)]; ok {
			return h(req)
		}
		return MockResponse{StatusCode: http.StatusOK, Body: ConnectionBody(path, nil, false, "")}
	}
}

// Static always returns resp.
func Static(resp MockResponse) GraphQLHandler {
	return func(graphql.Request) MockResponse {
		return resp
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers:    map[string]string{"Retry-After": "1"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewHTMLResponse creates a 200 response carrying an HTML document.
func NewHTMLResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       "<html><body>" + body + "</body></html>",
		Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
	}
}
