package query

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/xtxerr/metron/internal/catalog"
	"github.com/xtxerr/metron/internal/errors"
	"github.com/xtxerr/metron/internal/logging"
	"github.com/xtxerr/metron/internal/storage/group"
	"github.com/xtxerr/metron/internal/storage/points"
	"github.com/xtxerr/metron/internal/storage/types"
	"github.com/xtxerr/metron/internal/storage/window"
)

// =============================================================================
// Plan states
// =============================================================================

// State is a stage of query execution. Plans move
// Parsed → Resolved → Aggregated → Evaluated → Filtered → Responded,
// or to Failed from any state.
type State int

const (
	StateParsed State = iota
	StateResolved
	StateAggregated
	StateEvaluated
	StateFiltered
	StateResponded
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateResolved:
		return "resolved"
	case StateAggregated:
		return "aggregated"
	case StateEvaluated:
		return "evaluated"
	case StateFiltered:
		return "filtered"
	case StateResponded:
		return "responded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// =============================================================================
// Requests and responses
// =============================================================================

// LegacyRequest is the single-metric query form: one operation windowed
// over one metric, optionally grouped and filtered.
type LegacyRequest struct {
	Metric   string
	Agg      window.Aggregation
	Duration float64
	Range    types.TimeRange
	Query    Query
}

// ExpressionRequest evaluates an expression tree over a time range.
type ExpressionRequest struct {
	Range    types.TimeRange
	Duration float64
	Expr     Expression
}

// Response is the outcome of a query: an unlabeled series, or one series
// per group when the query grouped.
type Response struct {
	Grouped bool
	Groups  []GroupSeries
}

// =============================================================================
// Planner
// =============================================================================

// Planner orchestrates queries: it validates the request shape, resolves
// referenced metrics against the catalog, scans and aggregates per metric
// reference, evaluates the expression tree, and applies output filters.
//
// The read path performs no writes; failures after resolution have only
// done read-only work. Partial results are never returned.
type Planner struct {
	catalog *catalog.Catalog
	store   *points.Store

	// maxBuckets bounds (end-start)/duration per query.
	maxBuckets int

	// concurrency bounds parallel metric reference resolution.
	concurrency int

	// queryID numbers queries for request-scoped logging.
	queryID atomic.Uint64
}

// Config holds planner limits.
type Config struct {
	MaxBuckets      int
	EvalConcurrency int
}

// NewPlanner creates a planner over a catalog and store.
func NewPlanner(cat *catalog.Catalog, store *points.Store, cfg Config) *Planner {
	if cfg.MaxBuckets < 1 {
		cfg.MaxBuckets = 1
	}
	if cfg.EvalConcurrency < 1 {
		cfg.EvalConcurrency = 1
	}
	return &Planner{
		catalog:     cat,
		store:       store,
		maxBuckets:  cfg.MaxBuckets,
		concurrency: cfg.EvalConcurrency,
	}
}

// Legacy executes the single-metric query form. It is evaluated as a
// one-node expression tree; the output filter applies last.
func (p *Planner) Legacy(ctx context.Context, req LegacyRequest) (*Response, error) {
	expr := &MetricRef{
		Metric: req.Metric,
		Agg:    req.Agg,
		Query: Query{
			GroupBy: req.Query.GroupBy,
			Tags:    req.Query.Tags,
		},
	}
	return p.run(ctx, expr, req.Range, req.Duration, req.Query.Filter)
}

// Expression executes an expression tree query. Output filters live on the
// metric references inside the tree, so the plan-level filter is nil.
func (p *Planner) Expression(ctx context.Context, req ExpressionRequest) (*Response, error) {
	return p.run(ctx, req.Expr, req.Range, req.Duration, nil)
}

// run drives the plan through its states. filter, when non-nil, applies to
// the combined response last.
func (p *Planner) run(ctx context.Context, expr Expression, r types.TimeRange, duration float64, filter Filter) (*Response, error) {
	ctx = logging.ContextWithQueryID(ctx, p.queryID.Add(1))
	qlog := logging.WithContext(ctx).With("component", "planner")

	state := StateParsed
	advance := func(next State) {
		state = next
		qlog.Debug("query state", "state", state.String())
	}
	fail := func(err error) (*Response, error) {
		state = StateFailed
		qlog.Debug("query failed", "state", state.String(), "error", err)
		return nil, err
	}

	// Parse: validate the request shape before touching storage.
	if duration <= 0 {
		return fail(errors.Wrapf(errors.ErrInvalidDuration, "got %v", duration))
	}
	if err := r.Validate(); err != nil {
		return fail(errors.Wrap(errors.ErrInvalidRange, err.Error()))
	}
	if n := window.BucketCount(r, duration); n > p.maxBuckets {
		return fail(errors.NewInvalidValue("duration", duration,
			fmt.Sprintf("%d buckets exceed the limit of %d", n, p.maxBuckets)))
	}
	if expr == nil {
		return fail(errors.NewMissingField("expression"))
	}
	if err := expr.validate(); err != nil {
		return fail(err)
	}
	if filter != nil {
		if err := filter.validate(); err != nil {
			return fail(err)
		}
	}

	// Resolve: every referenced metric must exist. Terminal on the first
	// unknown metric.
	refs := collectRefs(expr, nil)
	for _, ref := range refs {
		if _, err := p.catalog.Lookup(ref.Metric); err != nil {
			return fail(err)
		}
	}
	advance(StateResolved)

	// Aggregate: resolution of each reference scans, groups, windows and
	// applies the reference's own filter.
	eval := NewEvaluator(p, p.concurrency)
	resolved, err := eval.resolveRefs(ctx, expr, r, duration)
	if err != nil {
		return fail(queryError(err))
	}
	advance(StateAggregated)

	// Evaluate: combine the tree over the resolved references.
	result, err := combine(expr, resolved)
	if err != nil {
		return fail(queryError(err))
	}
	advance(StateEvaluated)

	resp := resultResponse(result)
	if filter != nil {
		for i := range resp.Groups {
			resp.Groups[i].Series = ApplyFilter(filter, resp.Groups[i].Series)
		}
	}
	advance(StateFiltered)

	state = StateResponded
	qlog.Debug("query responded", "state", state.String(),
		"grouped", resp.Grouped, "groups", len(resp.Groups))
	return resp, nil
}

// resultResponse converts an evaluation result to a response. A scalar
// result never originates timestamps, so it yields an empty series.
func resultResponse(res *Result) *Response {
	if res.Scalar {
		return &Response{Groups: []GroupSeries{{Series: types.Series{}}}}
	}
	resp := &Response{Grouped: res.Grouped, Groups: res.Groups}
	if !resp.Grouped && len(resp.Groups) == 0 {
		resp.Groups = []GroupSeries{{Series: types.Series{}}}
	}
	for i := range resp.Groups {
		if resp.Groups[i].Series == nil {
			resp.Groups[i].Series = types.Series{}
		}
	}
	return resp
}

// queryError maps a context deadline to the timeout kind. Timed-out
// queries fail wholesale; callers never see partial aggregates.
func queryError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.ErrTimeout, "query deadline exceeded")
	}
	return err
}

// =============================================================================
// Metric reference resolution
// =============================================================================

// Resolve scans one metric reference, partitions it by the group-by key,
// aggregates each group into windows, and applies the reference's own
// output filter. It implements Source.
func (p *Planner) Resolve(ctx context.Context, ref *MetricRef, r types.TimeRange, duration float64) (*Result, error) {
	pts, err := p.store.Scan(ctx, ref.Metric, r, ref.Query.Tags)
	if err != nil {
		return nil, err
	}

	var groups []group.Group
	if ref.Query.GroupBy != "" {
		groups = group.ByTag(pts, ref.Query.GroupBy)
	} else {
		groups = group.Single(pts)
	}

	res := &Result{Grouped: ref.Query.GroupBy != ""}
	for _, g := range groups {
		series, err := window.Aggregate(ctx, g.Points, r, duration, ref.Agg)
		if err != nil {
			return nil, err
		}
		series = ApplyFilter(ref.Query.Filter, series)
		res.Groups = append(res.Groups, GroupSeries{Label: g.Label, Series: series})
	}
	if !res.Grouped && len(res.Groups) == 0 {
		res.Groups = []GroupSeries{{Series: types.Series{}}}
	}
	return res, nil
}
