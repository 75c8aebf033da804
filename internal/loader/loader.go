// Package loader handles configuration file loading and validation.
//
// Configuration comes from a YAML file with environment variable
// expansion; unset fields fall back to the documented defaults in the
// config package.
package loader

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/metron/config"
	"github.com/xtxerr/metron/internal/errors"
)

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the root configuration structure for metrond.
type Config struct {
	// Server configures the HTTP boundary.
	Server ServerConfig `yaml:"server"`

	// Query configures query limits and timeouts.
	Query QueryConfig `yaml:"query"`

	// Ingest configures ingestion limits and statistics.
	Ingest IngestConfig `yaml:"ingest"`

	// Export configures Parquet exports.
	Export ExportConfig `yaml:"export"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Listen is the HTTP listen address. Default: "127.0.0.1:9090".
	Listen string `yaml:"listen"`

	// MaxBodySize limits request body size in bytes.
	MaxBodySize int64 `yaml:"max_body_size"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// QueryConfig holds query limits.
type QueryConfig struct {
	// Timeout is the default timeout applied to queries that carry none.
	Timeout Duration `yaml:"timeout"`

	// MaxTimeout caps caller-supplied timeouts.
	MaxTimeout Duration `yaml:"max_timeout"`

	// MaxBuckets bounds (end-start)/duration per query.
	MaxBuckets int `yaml:"max_buckets"`

	// EvalConcurrency bounds parallel metric reference resolution.
	EvalConcurrency int `yaml:"eval_concurrency"`
}

// IngestConfig holds ingestion limits.
type IngestConfig struct {
	// MaxBatchSize is the maximum number of points per insert batch.
	MaxBatchSize int `yaml:"max_batch_size"`

	// StatsAccuracy is the DDSketch relative accuracy for ingest
	// statistics (0.01 = 1% error).
	StatsAccuracy float64 `yaml:"stats_accuracy"`
}

// ExportConfig holds Parquet export settings.
type ExportConfig struct {
	// Dir is where exports are written.
	Dir string `yaml:"dir"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns a config populated with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          config.DefaultListenAddress,
			MaxBodySize:     config.DefaultMaxBodySize,
			ShutdownTimeout: Duration(config.DefaultShutdownTimeout),
		},
		Query: QueryConfig{
			Timeout:         Duration(config.DefaultQueryTimeout),
			MaxTimeout:      Duration(config.MaxQueryTimeout),
			MaxBuckets:      config.DefaultMaxBucketsPerQuery,
			EvalConcurrency: config.DefaultEvalConcurrency,
		},
		Ingest: IngestConfig{
			MaxBatchSize:  config.DefaultMaxBatchSize,
			StatsAccuracy: config.DefaultStatsAccuracy,
		},
		Export: ExportConfig{
			Dir: config.DefaultExportDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Duration is a time.Duration that unmarshals from YAML, accepting either
// a duration string ("30s") or a plain integer number of seconds.
type Duration time.Duration

// Duration converts to the standard type.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. Environment variables in the
// file are expanded before parsing; missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate checks the configuration, collecting every problem rather than
// stopping at the first.
func (c *Config) Validate() error {
	verrs := errors.NewValidationErrors()

	if c.Server.Listen == "" {
		verrs.AddMissing("server.listen")
	}
	if c.Server.MaxBodySize <= 0 {
		verrs.AddField("server.max_body_size", "must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		verrs.AddField("server.shutdown_timeout", "must be positive")
	}
	if c.Query.Timeout <= 0 {
		verrs.AddField("query.timeout", "must be positive")
	}
	if c.Query.MaxTimeout < c.Query.Timeout {
		verrs.AddField("query.max_timeout", "must be at least query.timeout")
	}
	if c.Query.MaxBuckets <= 0 {
		verrs.AddField("query.max_buckets", "must be positive")
	}
	if c.Query.EvalConcurrency <= 0 {
		verrs.AddField("query.eval_concurrency", "must be positive")
	}
	if c.Ingest.MaxBatchSize <= 0 {
		verrs.AddField("ingest.max_batch_size", "must be positive")
	}
	if c.Ingest.StatsAccuracy <= 0 || c.Ingest.StatsAccuracy >= 1 {
		verrs.AddField("ingest.stats_accuracy", "must be in (0, 1)")
	}
	if c.Export.Dir == "" {
		verrs.AddMissing("export.dir")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		verrs.AddField("log.level", err.Error())
	}

	return verrs.Err()
}

// ParseLevel parses a log level name into a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
