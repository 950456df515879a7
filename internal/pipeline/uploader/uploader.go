// Package uploader runs the background worker that drains the ingestion
// queue and uploads staging files to the analytics sink.
package uploader

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/parqrelay/parqrelay/internal/logging"
	"github.com/parqrelay/parqrelay/internal/metrics"
	"github.com/parqrelay/parqrelay/internal/pipeline/correlation"
	"github.com/parqrelay/parqrelay/internal/pipeline/queue"
	"github.com/parqrelay/parqrelay/internal/sink"
)

var log = logging.Component("uploader")

// State is the upload state of one staging file.
type State int

const (
	StatePending State = iota
	StateUploading
	StateRetrying
	StateSucceeded
	StatePermanentlyFailed
	// StateMissing means the file was gone before the first attempt,
	// treated as already handled.
	StateMissing
)

// String returns a human-readable representation of the State.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateUploading:
		return "uploading"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StatePermanentlyFailed:
		return "permanently_failed"
	case StateMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Config configures the upload worker.
type Config struct {
	// MaxRetries bounds upload attempts per file.
	MaxRetries int

	// RetryBackoff is the fixed wait between attempts for the same file.
	// The wait blocks only this worker and observes cancellation.
	RetryBackoff time.Duration

	// PollInterval bounds how long the worker sleeps when the queue is
	// empty and no wakeup arrives.
	PollInterval time.Duration
}

// Worker serially uploads queued staging files to the sink. Files are
// processed to completion in strict queue order; retries of one file never
// let a later file overtake it.
type Worker struct {
	cfg    Config
	queue  *queue.Queue
	cache  *correlation.Cache
	loader sink.Loader

	// Statistics
	stats Stats
}

// Stats holds worker statistics.
type Stats struct {
	Attempts          atomic.Int64
	Retries           atomic.Int64
	Succeeded         atomic.Int64
	PermanentFailures atomic.Int64
	Missing           atomic.Int64
	Duplicates        atomic.Int64
}

// WorkerStats is the snapshot form of Stats.
type WorkerStats struct {
	Attempts          int64
	Retries           int64
	Succeeded         int64
	PermanentFailures int64
	Missing           int64
	Duplicates        int64
}

// New creates an upload worker.
func New(cfg Config, q *queue.Queue, cache *correlation.Cache, loader sink.Loader) (*Worker, error) {
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("max retries must be positive")
	}
	if cfg.RetryBackoff < 0 {
		return nil, fmt.Errorf("retry backoff must be non-negative")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}

	return &Worker{
		cfg:    cfg,
		queue:  q,
		cache:  cache,
		loader: loader,
	}, nil
}

// Run processes the ingestion queue until the context is cancelled. It is
// intended to run as a single long-lived goroutine.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for {
			path, ok := w.queue.Pop()
			if !ok {
				break
			}
			metrics.QueueDepth.Set(float64(w.queue.Len()))

			w.process(ctx, path)

			if ctx.Err() != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-w.queue.Wake():
		case <-ticker.C:
		}
	}
}

// process drives one staging file through the upload state machine.
// Whatever the terminal state, the correlation identifier is released
// exactly once.
func (w *Worker) process(ctx context.Context, path string) State {
	id := w.cache.GetOrCreate(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Already handled (or manually removed). The id must be released
		// here too, or repeated races would leak mappings forever.
		log.Warn("staging file missing, skipping", "path", path, "correlation_id", id)
		w.cache.Release(path)
		w.stats.Missing.Add(1)
		metrics.Uploads.WithLabelValues(metrics.OutcomeMissing).Inc()
		return StateMissing
	}

	state := StateUploading
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		w.stats.Attempts.Add(1)

		res, err := w.loader.Ingest(ctx, path, id)
		if err == nil {
			if res.Duplicate {
				w.stats.Duplicates.Add(1)
				log.Info("upload recognized as duplicate",
					"path", path, "correlation_id", id, "attempt", attempt)
			} else {
				log.Info("upload succeeded",
					"path", path, "correlation_id", id, "attempt", attempt, "rows", res.Rows)
			}
			w.cache.Release(path)
			w.stats.Succeeded.Add(1)
			metrics.Uploads.WithLabelValues(metrics.OutcomeSucceeded).Inc()
			return StateSucceeded
		}

		if ctx.Err() != nil {
			// Shutdown mid-upload: not a terminal disposition for the file,
			// the id dies with the process.
			return state
		}

		log.Warn("upload attempt failed",
			"path", path, "correlation_id", id,
			"attempt", attempt, "max_retries", w.cfg.MaxRetries, "error", err)

		if attempt >= w.cfg.MaxRetries {
			break
		}

		state = StateRetrying
		w.stats.Retries.Add(1)
		metrics.UploadRetries.Inc()

		select {
		case <-ctx.Done():
			return state
		case <-time.After(w.cfg.RetryBackoff):
		}
		state = StateUploading
	}

	// Retry budget exhausted: abandon the file on disk for manual recovery
	// and release the id.
	log.Error("upload permanently failed, abandoning file",
		"path", path, "correlation_id", id, "attempts", w.cfg.MaxRetries)
	w.cache.Release(path)
	w.stats.PermanentFailures.Add(1)
	metrics.Uploads.WithLabelValues(metrics.OutcomePermanentlyFailed).Inc()
	return StatePermanentlyFailed
}

// Stats returns a snapshot of worker statistics.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Attempts:          w.stats.Attempts.Load(),
		Retries:           w.stats.Retries.Load(),
		Succeeded:         w.stats.Succeeded.Load(),
		PermanentFailures: w.stats.PermanentFailures.Load(),
		Missing:           w.stats.Missing.Load(),
		Duplicates:        w.stats.Duplicates.Load(),
	}
}
