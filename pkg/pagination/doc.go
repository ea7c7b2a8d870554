// Package pagination drives cursor-paginated GraphQL connections and runs
// many of those pagination loops under a bounded worker pool.
//
// A Paginator walks one resource's connection page by page:
//
//	p, err := pagination.NewPaginator(c, query, pagination.DefaultPaginatorConfig(), logger)
//	res, err := p.Run(ctx, ref, pagination.ClampPageSize(numRatings, 1000))
//
// Run returns every record fetched before a failure together with the error,
// so callers never lose data that was already paid for.
//
// A Dispatcher fans units of work out over a fixed number of workers:
//
//	d := pagination.NewDispatcher(pagination.DefaultDispatcherConfig(), controller, logger)
//	report := d.Run(ctx, units, nil)
//
// The dispatcher:
//   - Caps the number of units in flight (default 5 workers)
//   - Bounds every unit with its own timeout, salvaging partial records
//   - Converts errors, timeouts and panics into failed outcomes
//   - Pauses new units while a shared cool-down is active
//   - Reports outcomes in submission order with progress logging
package pagination
