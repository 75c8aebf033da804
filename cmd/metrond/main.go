// metrond is the metrics engine daemon.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/metron/internal/engine"
	"github.com/xtxerr/metron/internal/export"
	"github.com/xtxerr/metron/internal/loader"
	"github.com/xtxerr/metron/internal/logging"
	"github.com/xtxerr/metron/internal/server"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	exportDir := flag.String("export-dir", "", "Parquet export directory (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	logJSON := flag.Bool("log-json", false, "log as JSON")
	flag.Parse()

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = loader.DefaultConfig()
		} else {
			slog.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *exportDir != "" {
		cfg.Export.Dir = *exportDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logJSON {
		cfg.Log.JSON = true
	}

	level, err := loader.ParseLevel(cfg.Log.Level)
	if err != nil {
		slog.Error("invalid log level", "error", err)
		os.Exit(1)
	}
	logging.Init(level, cfg.Log.JSON)
	log := logging.Component("metrond")
	log.Info("starting", "version", Version, "listen", cfg.Server.Listen)

	eng := engine.New(engine.Config{
		DefaultQueryTimeout: cfg.Query.Timeout.Duration(),
		MaxQueryTimeout:     cfg.Query.MaxTimeout.Duration(),
		MaxBatchSize:        cfg.Ingest.MaxBatchSize,
		MaxBuckets:          cfg.Query.MaxBuckets,
		EvalConcurrency:     cfg.Query.EvalConcurrency,
		StatsAccuracy:       cfg.Ingest.StatsAccuracy,
	})

	exporter, err := export.NewExporter(cfg.Export.Dir)
	if err != nil {
		log.Error("create exporter", "error", err)
		os.Exit(1)
	}

	sqlSvc, err := export.NewSQLService(cfg.Export.Dir)
	if err != nil {
		log.Error("open sql service", "error", err)
		os.Exit(1)
	}
	defer sqlSvc.Close()

	srv := server.New(&server.Config{
		Engine:      eng,
		Exporter:    exporter,
		SQL:         sqlSvc,
		Listen:      cfg.Server.Listen,
		MaxBodySize: cfg.Server.MaxBodySize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, cfg.Server.ShutdownTimeout.Duration()); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
