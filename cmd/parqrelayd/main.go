// parqrelayd is the sample ingestion relay daemon.
//
// It accepts pushed time-series samples over Prometheus remote-write,
// batches them into Parquet staging files, and loads the files into a
// DuckDB analytics table with retries and per-file idempotency.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parqrelay/parqrelay/internal/config"
	"github.com/parqrelay/parqrelay/internal/logging"
	"github.com/parqrelay/parqrelay/internal/pipeline"
	"github.com/parqrelay/parqrelay/internal/pipeline/staging"
	"github.com/parqrelay/parqrelay/internal/pipeline/uploader"
	"github.com/parqrelay/parqrelay/internal/server"
	"github.com/parqrelay/parqrelay/internal/sink"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	stagingDir := flag.String("staging-dir", "", "staging directory (overrides config)")
	dbPath := flag.String("db", "", "sink database path (overrides config)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	log.Printf("parqrelayd %s starting...", Version)

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Printf("No config file found, using defaults")
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("Load config: %v", err)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *stagingDir != "" {
		cfg.StagingDir = *stagingDir
	}
	if *dbPath != "" {
		cfg.Sink.Path = *dbPath
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logging.Init(level, cfg.Log.JSON)

	// =========================================================================
	// Initialize Sink (DuckDB analytics table)
	// =========================================================================

	log.Printf("Opening sink: %s (table=%s)", cfg.Sink.Path, cfg.Sink.Table)

	loader, err := sink.OpenDuckDB(sink.Config{
		Path:         cfg.Sink.Path,
		Table:        cfg.Sink.Table,
		DeleteSource: !cfg.Sink.KeepSource,
	})
	if err != nil {
		log.Fatalf("Open sink: %v", err)
	}

	// =========================================================================
	// Create and Start Pipeline
	// =========================================================================

	opts := staging.DefaultOptions()
	opts.Compression = staging.ParseCompressionType(cfg.Parquet.Compression)

	pipe, err := pipeline.New(pipeline.Config{
		StagingDir:       cfg.StagingDir,
		MaxBatchSize:     cfg.Batching.MaxBatchSize,
		MaxBatchInterval: cfg.Batching.MaxBatchInterval.Duration(),
		Upload: uploader.Config{
			MaxRetries:   cfg.Upload.MaxRetries,
			RetryBackoff: cfg.Upload.RetryBackoff.Duration(),
			PollInterval: cfg.Upload.PollInterval.Duration(),
		},
		Staging: opts,
	}, loader)
	if err != nil {
		log.Fatalf("Create pipeline: %v", err)
	}

	if err := pipe.Start(); err != nil {
		log.Fatalf("Start pipeline: %v", err)
	}

	log.Printf("Pipeline started (staging_dir=%s, batch=%d/%s)",
		cfg.StagingDir, cfg.Batching.MaxBatchSize, cfg.Batching.MaxBatchInterval.Duration())

	// =========================================================================
	// Run Server with Graceful Shutdown
	// =========================================================================

	srv := server.New(&server.Config{
		Pipeline:     pipe,
		Listen:       cfg.Listen,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("Warning: server: %v", err)
	}

	// Server is down, so no new samples arrive. Stop the pipeline next: it
	// stages whatever is still buffered so restart recovery can pick it up.
	if err := pipe.Stop(); err != nil {
		log.Printf("Warning: pipeline stop: %v", err)
	}

	// Close the sink last.
	if err := loader.Close(); err != nil {
		log.Printf("Warning: sink close: %v", err)
	}

	log.Println("Shutdown complete")
}
