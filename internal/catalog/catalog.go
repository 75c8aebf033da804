// Package catalog provides the metric registry.
//
// The catalog maps metric names to their kind (gauge or counter) and an
// optional auto-primary-tag key. Registration is idempotent for the same
// kind; re-registering with a different kind is a conflict. Kind is
// immutable after creation.
package catalog

import (
	"sync"

	"github.com/xtxerr/metron/internal/errors"
	"github.com/xtxerr/metron/internal/logging"
	"github.com/xtxerr/metron/internal/storage/types"
	"github.com/xtxerr/metron/internal/validation"
)

var log = logging.Component("catalog")

// Metric is the descriptor stored per registered metric.
type Metric struct {
	// Name is the unique metric name.
	Name string

	// Kind is the metric kind, immutable after registration.
	Kind types.Kind

	// AutoPrimaryTagKey, when non-empty, is the tag key injected from the
	// ingestion source identity for points that lack it.
	AutoPrimaryTagKey string
}

// Catalog is the metric registry.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		metrics: make(map[string]*Metric),
	}
}

// Register creates the metric if absent. Registering an existing metric
// with the same kind succeeds idempotently; with a different kind it
// fails with a conflict.
func (c *Catalog) Register(name string, kind types.Kind) error {
	if err := validation.ValidateMetricName(name); err != nil {
		return errors.Wrapf(errors.ErrInvalidName, "metric %q: %v", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.metrics[name]; ok {
		if existing.Kind != kind {
			return errors.NewKindConflict(name, existing.Kind.String(), kind.String())
		}
		return nil
	}

	c.metrics[name] = &Metric{Name: name, Kind: kind}
	log.Info("metric registered", "metric", name, "kind", kind.String())
	return nil
}

// SetAutoPrimaryTag stores the auto-primary-tag key for a metric,
// overwriting any previous value. Fails if the metric is not registered.
func (c *Catalog) SetAutoPrimaryTag(name, key string) error {
	if err := validation.ValidateTagKey(key); err != nil {
		return errors.Wrapf(errors.ErrInvalidTagKey, "key %q: %v", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.metrics[name]
	if !ok {
		return errors.NewMetricNotFound(name)
	}

	m.AutoPrimaryTagKey = key
	log.Info("auto primary tag set", "metric", name, "key", key)
	return nil
}

// Lookup returns the descriptor for a metric, or a not-found error.
// The returned descriptor is a copy; mutating it has no effect.
func (c *Catalog) Lookup(name string) (Metric, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.metrics[name]
	if !ok {
		return Metric{}, errors.NewMetricNotFound(name)
	}
	return *m, nil
}

// Names returns all registered metric names in unspecified order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.metrics))
	for name := range c.metrics {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered metrics.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.metrics)
}
