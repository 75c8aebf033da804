// Package engine wires the catalog, point store, statistics and planner
// into the single facade the boundary layer talks to.
package engine

import (
	"context"
	"math"
	"time"

	"github.com/xtxerr/metron/config"
	"github.com/xtxerr/metron/internal/catalog"
	"github.com/xtxerr/metron/internal/errors"
	"github.com/xtxerr/metron/internal/logging"
	"github.com/xtxerr/metron/internal/query"
	"github.com/xtxerr/metron/internal/storage/points"
	"github.com/xtxerr/metron/internal/storage/stats"
	"github.com/xtxerr/metron/internal/storage/types"
	"github.com/xtxerr/metron/internal/validation"
)

// Config holds engine limits and defaults.
type Config struct {
	// DefaultQueryTimeout bounds queries that carry no deadline of
	// their own.
	DefaultQueryTimeout time.Duration

	// MaxQueryTimeout caps caller-supplied deadlines.
	MaxQueryTimeout time.Duration

	// MaxBatchSize is the maximum number of points per insert batch.
	MaxBatchSize int

	// MaxBuckets bounds (end-start)/duration per query.
	MaxBuckets int

	// EvalConcurrency bounds parallel metric reference resolution.
	EvalConcurrency int

	// StatsAccuracy is the DDSketch relative accuracy for ingest
	// statistics.
	StatsAccuracy float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultQueryTimeout: config.DefaultQueryTimeout,
		MaxQueryTimeout:     config.MaxQueryTimeout,
		MaxBatchSize:        config.DefaultMaxBatchSize,
		MaxBuckets:          config.DefaultMaxBucketsPerQuery,
		EvalConcurrency:     config.DefaultEvalConcurrency,
		StatsAccuracy:       config.DefaultStatsAccuracy,
	}
}

// Engine is the metrics engine facade.
//
// Engine is safe for concurrent use: ingestion sources and queries run
// concurrently, with per-metric write serialization in the store.
type Engine struct {
	cfg     Config
	catalog *catalog.Catalog
	store   *points.Store
	stats   *stats.Registry
	planner *query.Planner
}

// New creates an engine.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.DefaultQueryTimeout <= 0 {
		cfg.DefaultQueryTimeout = def.DefaultQueryTimeout
	}
	if cfg.MaxQueryTimeout <= 0 {
		cfg.MaxQueryTimeout = def.MaxQueryTimeout
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.MaxBuckets <= 0 {
		cfg.MaxBuckets = def.MaxBuckets
	}
	if cfg.EvalConcurrency <= 0 {
		cfg.EvalConcurrency = def.EvalConcurrency
	}
	if cfg.StatsAccuracy <= 0 {
		cfg.StatsAccuracy = def.StatsAccuracy
	}

	cat := catalog.New()
	store := points.New()
	return &Engine{
		cfg:     cfg,
		catalog: cat,
		store:   store,
		stats:   stats.NewRegistry(cfg.StatsAccuracy),
		planner: query.NewPlanner(cat, store, query.Config{
			MaxBuckets:      cfg.MaxBuckets,
			EvalConcurrency: cfg.EvalConcurrency,
		}),
	}
}

// Catalog exposes the metric registry.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// =============================================================================
// Registration
// =============================================================================

// RegisterMetric creates a metric. Re-registration with the same kind is
// a no-op; with a different kind it is a conflict.
func (e *Engine) RegisterMetric(name string, kind types.Kind) error {
	return e.catalog.Register(name, kind)
}

// SetAutoPrimaryTag sets the tag key injected from the ingestion source
// identity for points that lack it.
func (e *Engine) SetAutoPrimaryTag(metric, key string) error {
	return e.catalog.SetAutoPrimaryTag(metric, key)
}

// =============================================================================
// Ingestion
// =============================================================================

// InsertBatch validates and appends a batch of points to a metric. The
// batch is rejected as a whole on validation failure: unknown metric,
// wrong kind, oversized batch, or a malformed point. Points missing the
// metric's auto-primary-tag key receive it from source, the identity of
// the inserting source.
func (e *Engine) InsertBatch(ctx context.Context, kind types.Kind, metric string, batch []types.Point, source string) (int, error) {
	ctx = logging.ContextWithMetric(ctx, metric)
	if source != "" {
		ctx = logging.ContextWithSource(ctx, source)
	}

	m, err := e.catalog.Lookup(metric)
	if err != nil {
		return 0, err
	}
	if m.Kind != kind {
		return 0, errors.NewInvalidValue("kind", kind.String(),
			"metric "+metric+" is "+m.Kind.String())
	}
	if len(batch) > e.cfg.MaxBatchSize {
		return 0, errors.NewInvalidValue("batch", len(batch),
			"exceeds the maximum batch size")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	pts := make([]types.Point, len(batch))
	for i, pt := range batch {
		if math.IsNaN(pt.Value) || math.IsInf(pt.Value, 0) {
			return 0, errors.NewInvalidValue("value", pt.Value, "must be finite")
		}
		if math.IsNaN(pt.Time) || math.IsInf(pt.Time, 0) {
			return 0, errors.NewInvalidValue("time", pt.Time, "must be finite")
		}
		for _, tag := range pt.Tags {
			if err := validation.ValidateTag(tag); err != nil {
				return 0, errors.Wrap(errors.ErrInvalidArgument, err.Error())
			}
		}
		if key, dup := types.DuplicateTagKey(pt.Tags); dup {
			return 0, errors.NewInvalidValue("tags", key, "duplicate tag key")
		}
		pts[i] = pt
		if m.AutoPrimaryTagKey != "" && source != "" {
			if _, ok := pt.TagValue(m.AutoPrimaryTagKey); !ok {
				tags := make([]string, len(pt.Tags), len(pt.Tags)+1)
				copy(tags, pt.Tags)
				pts[i].Tags = append(tags, m.AutoPrimaryTagKey+":"+source)
			}
		}
	}

	n := e.store.InsertBatch(metric, pts)
	e.stats.Record(metric, pts)
	logging.WithContext(ctx).With("component", "engine").Debug("batch inserted", "points", n)
	return n, nil
}

// =============================================================================
// Queries
// =============================================================================

// LegacyQuery runs the single-metric query form under the engine's
// timeout policy.
func (e *Engine) LegacyQuery(ctx context.Context, req query.LegacyRequest, timeout time.Duration) (*query.Response, error) {
	ctx, cancel := e.queryContext(ctx, timeout)
	defer cancel()
	return e.planner.Legacy(ctx, req)
}

// ExpressionQuery evaluates an expression tree under the engine's timeout
// policy.
func (e *Engine) ExpressionQuery(ctx context.Context, req query.ExpressionRequest, timeout time.Duration) (*query.Response, error) {
	ctx, cancel := e.queryContext(ctx, timeout)
	defer cancel()
	return e.planner.Expression(ctx, req)
}

// queryContext applies the default timeout when the caller supplied none
// and caps caller-supplied timeouts.
func (e *Engine) queryContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = e.cfg.DefaultQueryTimeout
	}
	if timeout > e.cfg.MaxQueryTimeout {
		timeout = e.cfg.MaxQueryTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// =============================================================================
// Introspection
// =============================================================================

// Stats is an engine-wide statistics snapshot.
type Stats struct {
	Metrics []stats.MetricStats `json:"metrics"`
	Store   points.StoreStats   `json:"store"`
}

// Stats returns a snapshot of ingest statistics per metric plus
// store-wide counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Metrics: e.stats.Snapshot(),
		Store:   e.store.Stats(),
	}
}
