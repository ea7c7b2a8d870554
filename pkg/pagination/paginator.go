package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/collector"
	"github.com/Sternrassler/rmp-harvest/pkg/graphql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for pagination.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_pages_total",
		Help: "Total connection pages fetched by query",
	}, []string{"query"})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_records_total",
		Help: "Total records yielded by pagination, by kind",
	}, []string{"kind"})

	pageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_page_duration_seconds",
		Help:    "Duration of one page round-trip including decoding",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})
)

// Variable names every paginated template must declare.
const (
	VarCount  = "count"
	VarCursor = "cursor"
)

// DefaultMaxPageSize is the largest page the service accepts.
const DefaultMaxPageSize = 1000

// State is a pagination loop state.
type State string

const (
	StateFetching State = "fetching"
	StateDone     State = "done"
	StateError    State = "error"
)

// Querier sends one GraphQL request. *client.Client satisfies it.
type Querier interface {
	Query(ctx context.Context, req graphql.Request) ([]byte, error)
}

// Query describes one paginated connection.
type Query struct {
	// Template is the query document; it must declare $count and $cursor
	Template *graphql.Template

	// Path locates the connection below "data" (e.g. search, teachers)
	Path []string

	// Kind tags the records the connection yields
	Kind collector.Kind

	// Variables returns the resource-specific variables for ref.
	// count and cursor are set by the paginator.
	Variables func(ref string) map[string]any

	// Reshapers apply to every node
	Reshapers []Reshaper

	// TagField, when set, tags every record with the resource reference
	TagField string
}

// PaginatorConfig holds paginator configuration.
type PaginatorConfig struct {
	// MaxPageSize clamps the requested page size
	MaxPageSize int

	// MaxPages stops after this many pages (0 = no cap)
	MaxPages int
}

// DefaultPaginatorConfig returns the service's limits with no page cap.
func DefaultPaginatorConfig() PaginatorConfig {
	return PaginatorConfig{
		MaxPageSize: DefaultMaxPageSize,
	}
}

// ClampPageSize returns the page size for a resource. target is the number
// of records expected (0 if unknown); the result never exceeds max.
func ClampPageSize(target, max int) int {
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	if target <= 0 || target > max {
		return max
	}
	return target
}

// Result is the outcome of one pagination run. Records holds everything
// accumulated, including pages fetched before a failure.
type Result struct {
	Records []collector.Record
	Pages   int
	Cursors []string
	State   State
}

// Paginator walks one connection per resource.
type Paginator struct {
	querier Querier
	query   Query
	cfg     PaginatorConfig
	logger  zerolog.Logger
}

// NewPaginator creates a paginator for query.
func NewPaginator(querier Querier, query Query, cfg PaginatorConfig, logger zerolog.Logger) (*Paginator, error) {
	if querier == nil {
		return nil, fmt.Errorf("querier is required")
	}
	if query.Template == nil {
		return nil, fmt.Errorf("query template is required")
	}
	if !query.Template.Declares(VarCount, VarCursor) {
		return nil, fmt.Errorf("query %q must declare $%s and $%s", query.Template.Name(), VarCount, VarCursor)
	}
	if len(query.Path) == 0 {
		return nil, fmt.Errorf("query %q has no connection path", query.Template.Name())
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = DefaultMaxPageSize
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max_pages must be >= 0 (got %d)", cfg.MaxPages)
	}

	return &Paginator{
		querier: querier,
		query:   query,
		cfg:     cfg,
		logger:  logger.With().Str("query", query.Template.Name()).Logger(),
	}, nil
}

// Run paginates the connection of resource ref. On any failure it stops
// without retrying and returns the records gathered so far with the error.
func (p *Paginator) Run(ctx context.Context, ref string, pageSize int) (Result, error) {
	pageSize = ClampPageSize(pageSize, p.cfg.MaxPageSize)
	name := p.query.Template.Name()

	res := Result{State: StateFetching}
	cursor := ""
	hasMore := true
	page := 0

	fail := func(err error) (Result, error) {
		res.State = StateError
		p.logger.Debug().
			Err(err).
			Str("resource", ref).
			Int("pages", res.Pages).
			Int("records", len(res.Records)).
			Msg("Pagination stopped with partial results")
		return res, fmt.Errorf("resource %s page %d: %w", ref, page, err)
	}

	for hasMore {
		page++
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		vars := map[string]any{}
		if p.query.Variables != nil {
			for k, v := range p.query.Variables(ref) {
				vars[k] = v
			}
		}
		vars[VarCount] = pageSize
		vars[VarCursor] = cursor

		start := time.Now()
		body, err := p.querier.Query(ctx, p.query.Template.Request(vars))
		if err != nil {
			return fail(err)
		}
		conn, err := graphql.DecodeConnection(body, p.query.Path...)
		pageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			return fail(err)
		}
		pagesTotal.WithLabelValues(name).Inc()

		for _, edge := range conn.Edges {
			node, keep := reshape(edge.Node, p.query.Reshapers)
			if !keep {
				continue
			}
			if p.query.TagField != "" {
				node[p.query.TagField] = ref
			}
			res.Records = append(res.Records, collector.Record{
				Kind:     p.query.Kind,
				Resource: ref,
				Fields:   node,
			})
			recordsTotal.WithLabelValues(string(p.query.Kind)).Inc()
		}
		res.Pages++

		hasMore = conn.PageInfo.HasNextPage
		if hasMore {
			next := conn.PageInfo.EndCursor
			if next == "" {
				return fail(&graphql.MalformedError{Path: "pageInfo.endCursor", Reason: "missing on a page with more results"})
			}
			if next == cursor {
				return fail(&graphql.MalformedError{Path: "pageInfo.endCursor", Reason: fmt.Sprintf("cursor %q did not advance", next)})
			}
			cursor = next
			res.Cursors = append(res.Cursors, next)
		}

		p.logger.Debug().
			Str("resource", ref).
			Int("page", res.Pages).
			Int("edges", len(conn.Edges)).
			Bool("has_more", hasMore).
			Msg("Fetched page")

		if p.cfg.MaxPages > 0 && res.Pages >= p.cfg.MaxPages {
			break
		}
	}

	res.State = StateDone
	return res, nil
}
