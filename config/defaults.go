// Package config provides configuration defaults and utilities
// for the metron metrics engine.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default HTTP listen address.
	// Override via config: server.listen
	DefaultListenAddress = "127.0.0.1:9090"

	// DefaultMaxBodySize limits request body size to prevent OOM.
	// 16 MiB is sufficient for any reasonable insert batch.
	// Override via config: server.max_body_size
	DefaultMaxBodySize = 16 * 1024 * 1024
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryTimeout bounds every query; on expiry the query fails
	// wholesale, partial aggregates are never returned.
	// Override via config: query.timeout
	DefaultQueryTimeout = 30 * time.Second

	// MaxQueryTimeout caps caller-supplied timeouts.
	// Override via config: query.max_timeout
	MaxQueryTimeout = 5 * time.Minute

	// DefaultMaxBucketsPerQuery bounds (end-start)/duration per query.
	// Override via config: query.max_buckets
	DefaultMaxBucketsPerQuery = 1_000_000

	// DefaultEvalConcurrency is how many metric references of one
	// expression tree are resolved in parallel.
	// Override via config: query.eval_concurrency
	DefaultEvalConcurrency = 8
)

// =============================================================================
// Ingestion Defaults
// =============================================================================

const (
	// DefaultMaxBatchSize is the maximum number of points per insert batch.
	// Override via config: ingest.max_batch_size
	DefaultMaxBatchSize = 100_000

	// DefaultStatsAccuracy is the DDSketch relative accuracy used for the
	// per-metric ingest statistics (0.01 = 1% error).
	// Override via config: ingest.stats_accuracy
	DefaultStatsAccuracy = 0.01
)

// =============================================================================
// Export Defaults
// =============================================================================

const (
	// DefaultExportDir is where Parquet exports are written.
	// Override via config: export.dir
	DefaultExportDir = "exports"
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultShutdownTimeout is how long to wait for in-flight requests
	// during shutdown. Follows the Kubernetes convention
	// (terminationGracePeriodSeconds = 30s).
	DefaultShutdownTimeout = 30 * time.Second
)
