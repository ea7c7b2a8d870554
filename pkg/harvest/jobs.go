package harvest

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Sternrassler/rmp-harvest/pkg/collector"
	"github.com/Sternrassler/rmp-harvest/pkg/graphql"
	"github.com/Sternrassler/rmp-harvest/pkg/pagination"
	"github.com/Sternrassler/rmp-harvest/pkg/probe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var skippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harvest_resources_skipped_total",
	Help: "Resources skipped by the validity probe, by verdict",
}, []string{"verdict"})

// Connection paths of the two queries.
var (
	ProfessorsPath = []string{"search", "teachers"}
	ReviewsPath    = []string{"node", "ratings"}
)

// Service is the remote session used by the jobs. *client.Client satisfies it.
type Service interface {
	pagination.Querier
	probe.Fetcher
}

// Job turns an item into a unit of work.
type Job interface {
	Name() string
	Unit(item Item) pagination.Unit
}

// ProfessorsJob collects every professor of a school: one probe, then the
// school's professor connection.
type ProfessorsJob struct {
	prober    *probe.Prober
	paginator *pagination.Paginator
	pageSize  int
	logger    zerolog.Logger
}

// NewProfessorsJob builds the professors job from cfg.
func NewProfessorsJob(svc Service, cfg Config, logger zerolog.Logger) (*ProfessorsJob, error) {
	logger = logger.With().Str("job", "professors").Logger()

	prober, err := probe.New(svc, cfg.Probe, logger)
	if err != nil {
		return nil, fmt.Errorf("create prober: %w", err)
	}

	tmpl, err := graphql.NewTemplate("professors", cfg.professorsDocument())
	if err != nil {
		return nil, err
	}
	paginator, err := pagination.NewPaginator(svc, pagination.Query{
		Template: tmpl,
		Path:     ProfessorsPath,
		Kind:     collector.KindEntity,
		Variables: func(ref string) map[string]any {
			return map[string]any{
				"query": map[string]any{
					"text":         "",
					"schoolID":     ref,
					"fallback":     false,
					"departmentID": nil,
				},
			}
		},
		Reshapers: []pagination.Reshaper{
			pagination.RequireTypename("Teacher"),
			pagination.PromoteParent("school", map[string]string{"id": "schoolId", "name": "schoolName"}),
		},
	}, pagination.PaginatorConfig{MaxPageSize: cfg.MaxPageSize, MaxPages: cfg.MaxPages}, logger)
	if err != nil {
		return nil, err
	}

	return &ProfessorsJob{
		prober:    prober,
		paginator: paginator,
		pageSize:  cfg.PageSize,
		logger:    logger,
	}, nil
}

// Name implements Job.
func (j *ProfessorsJob) Name() string { return "professors" }

// Unit implements Job. Invalid schools yield no records and no request
// beyond the probe.
func (j *ProfessorsJob) Unit(item Item) pagination.Unit {
	return pagination.Unit{
		Key: item.ID,
		Run: func(ctx context.Context) ([]collector.Record, error) {
			id, err := strconv.Atoi(item.ID)
			if err != nil {
				return nil, fmt.Errorf("school id %q: %w", item.ID, err)
			}

			verdict, err := j.prober.Probe(ctx, id)
			if err != nil {
				return nil, err
			}
			if !verdict.Valid() {
				skippedTotal.WithLabelValues(verdict.String()).Inc()
				return nil, nil
			}

			res, err := j.paginator.Run(ctx, EncodeReference(SchoolPrefix, id), j.pageSize)
			return res.Records, err
		},
	}
}

// ReviewsJob collects every review of a professor.
type ReviewsJob struct {
	paginator   *pagination.Paginator
	maxPageSize int
}

// NewReviewsJob builds the reviews job from cfg.
func NewReviewsJob(svc Service, cfg Config, logger zerolog.Logger) (*ReviewsJob, error) {
	logger = logger.With().Str("job", "reviews").Logger()

	tmpl, err := graphql.NewTemplate("reviews", cfg.reviewsDocument())
	if err != nil {
		return nil, err
	}
	paginator, err := pagination.NewPaginator(svc, pagination.Query{
		Template: tmpl,
		Path:     ReviewsPath,
		Kind:     collector.KindSubRecord,
		Variables: func(ref string) map[string]any {
			return map[string]any{"id": ref, "courseFilter": nil}
		},
		Reshapers: []pagination.Reshaper{
			pagination.DropFields("thumbs", "teacherNote"),
		},
		TagField: "profId",
	}, pagination.PaginatorConfig{MaxPageSize: cfg.MaxPageSize}, logger)
	if err != nil {
		return nil, err
	}

	return &ReviewsJob{paginator: paginator, maxPageSize: cfg.MaxPageSize}, nil
}

// Name implements Job.
func (j *ReviewsJob) Name() string { return "reviews" }

// Unit implements Job. The page size follows the known review count so
// small professors need a single request.
func (j *ReviewsJob) Unit(item Item) pagination.Unit {
	ref := NormalizeReference(TeacherPrefix, item.ID)
	return pagination.Unit{
		Key: item.ID,
		Run: func(ctx context.Context) ([]collector.Record, error) {
			res, err := j.paginator.Run(ctx, ref, pagination.ClampPageSize(item.Hint, j.maxPageSize))
			return res.Records, err
		},
	}
}
