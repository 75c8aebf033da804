// Package stats maintains streaming per-metric ingest statistics.
//
// Each metric gets a collector with running count/sum/min/max and a
// DDSketch for approximate percentiles. These statistics describe the
// ingest stream as a whole; query-path percentiles are computed exactly
// by the window package and never read from here.
package stats

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/xtxerr/metron/internal/storage/types"
)

// Collector maintains running statistics for one metric.
type Collector struct {
	mu sync.Mutex

	metric string

	// Running statistics
	count   int64
	sum     float64
	min     float64
	max     float64
	firstTs float64
	lastTs  float64

	// DDSketch for percentiles (nil if construction failed)
	sketch *ddsketch.DDSketch
}

// NewCollector creates a collector with the given DDSketch relative
// accuracy (0.01 = 1% error).
func NewCollector(metric string, accuracy float64) *Collector {
	c := &Collector{
		metric: metric,
		min:    math.MaxFloat64,
		max:    -math.MaxFloat64,
	}

	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err == nil {
		c.sketch = sketch
	}

	return c
}

// Add records a value observed at the given timestamp.
func (c *Collector) Add(value, ts float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	c.sum += value

	if value < c.min {
		c.min = value
	}
	if value > c.max {
		c.max = value
	}

	if c.firstTs == 0 || ts < c.firstTs {
		c.firstTs = ts
	}
	if ts > c.lastTs {
		c.lastTs = ts
	}

	if c.sketch != nil {
		c.sketch.Add(value)
	}
}

// AddPoint records one point.
func (c *Collector) AddPoint(p types.Point) {
	c.Add(p.Value, p.Time)
}

// Count returns the number of values recorded.
func (c *Collector) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Result returns a snapshot of the collector.
func (c *Collector) Result() MetricStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := MetricStats{
		Metric:  c.metric,
		Count:   c.count,
		Sum:     c.sum,
		FirstTs: c.firstTs,
		LastTs:  c.lastTs,
	}

	if c.count > 0 {
		result.Avg = c.sum / float64(c.count)
		result.Min = c.min
		result.Max = c.max
	}

	if c.sketch != nil && c.count > 0 {
		p50, _ := c.sketch.GetValueAtQuantile(0.50)
		p95, _ := c.sketch.GetValueAtQuantile(0.95)
		p99, _ := c.sketch.GetValueAtQuantile(0.99)
		result.P50 = &p50
		result.P95 = &p95
		result.P99 = &p99
	}

	return result
}

// MetricStats is a snapshot of one metric's ingest statistics.
type MetricStats struct {
	Metric  string   `json:"metric"`
	Count   int64    `json:"count"`
	Sum     float64  `json:"sum"`
	Avg     float64  `json:"avg"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	FirstTs float64  `json:"first_ts"`
	LastTs  float64  `json:"last_ts"`
	P50     *float64 `json:"p50,omitempty"`
	P95     *float64 `json:"p95,omitempty"`
	P99     *float64 `json:"p99,omitempty"`
}

// HasPercentiles reports whether sketch percentiles are present.
func (m *MetricStats) HasPercentiles() bool {
	return m.P50 != nil
}

// =============================================================================
// Registry
// =============================================================================

// Registry holds one collector per metric.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]*Collector
	accuracy   float64
}

// NewRegistry creates a registry with the given sketch accuracy.
func NewRegistry(accuracy float64) *Registry {
	return &Registry{
		collectors: make(map[string]*Collector),
		accuracy:   accuracy,
	}
}

// Collector returns the collector for a metric, creating it if needed.
func (r *Registry) Collector(metric string) *Collector {
	r.mu.RLock()
	c, ok := r.collectors[metric]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.collectors[metric]; ok {
		return c
	}
	c = NewCollector(metric, r.accuracy)
	r.collectors[metric] = c
	return c
}

// Record adds a batch of points to a metric's collector.
func (r *Registry) Record(metric string, pts []types.Point) {
	if len(pts) == 0 {
		return
	}
	c := r.Collector(metric)
	for i := range pts {
		c.AddPoint(pts[i])
	}
}

// Snapshot returns the statistics of every metric with recorded points.
func (r *Registry) Snapshot() []MetricStats {
	r.mu.RLock()
	collectors := make([]*Collector, 0, len(r.collectors))
	for _, c := range r.collectors {
		collectors = append(collectors, c)
	}
	r.mu.RUnlock()

	out := make([]MetricStats, 0, len(collectors))
	for _, c := range collectors {
		out = append(out, c.Result())
	}
	return out
}
