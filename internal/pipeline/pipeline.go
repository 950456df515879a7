// Package pipeline implements the batching and durable-ingestion pipeline:
// samples are buffered in memory, flushed to Parquet staging files on a
// size threshold or time interval, and uploaded to the analytics sink by a
// retrying background worker.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parqrelay/parqrelay/internal/logging"
	"github.com/parqrelay/parqrelay/internal/metrics"
	"github.com/parqrelay/parqrelay/internal/pipeline/buffer"
	"github.com/parqrelay/parqrelay/internal/pipeline/correlation"
	"github.com/parqrelay/parqrelay/internal/pipeline/queue"
	"github.com/parqrelay/parqrelay/internal/pipeline/staging"
	"github.com/parqrelay/parqrelay/internal/pipeline/types"
	"github.com/parqrelay/parqrelay/internal/pipeline/uploader"
	"github.com/parqrelay/parqrelay/internal/sink"
)

var log = logging.Component("pipeline")

// Config configures a pipeline instance.
type Config struct {
	// StagingDir holds Parquet staging files between flush and upload.
	StagingDir string

	// MaxBatchSize triggers a flush when the buffer exceeds this many
	// samples.
	MaxBatchSize int

	// MaxBatchInterval bounds how long a sample waits in the buffer
	// before the interval trigger stages it.
	MaxBatchInterval time.Duration

	// Upload configures the ingestion worker.
	Upload uploader.Config

	// Staging configures Parquet serialization.
	Staging staging.Options
}

// Pipeline owns the intake buffer, the ingestion queue, the idempotency
// cache, and the two background tasks (interval trigger and upload worker).
// Instances are independent: constructing two pipelines over different
// staging directories gives two isolated data paths.
type Pipeline struct {
	cfg    Config
	loader sink.Loader

	// Components
	buf    *buffer.Buffer
	queue  *queue.Queue
	cache  *correlation.Cache
	worker *uploader.Worker

	// flushMu serializes drain + serialize + write + enqueue-path so two
	// racing triggers can never interleave drains or share a file.
	flushMu  sync.Mutex
	flushSeq atomic.Uint64

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	stats Stats
}

// Stats holds pipeline statistics.
type Stats struct {
	SamplesEnqueued  atomic.Int64
	FlushesCompleted atomic.Int64
	EmptyFlushes     atomic.Int64
	FlushErrors      atomic.Int64
	SamplesStaged    atomic.Int64
	FilesRecovered   atomic.Int64
}

// New creates a pipeline. The staging directory is created if needed.
func New(cfg Config, loader sink.Loader) (*Pipeline, error) {
	if cfg.StagingDir == "" {
		return nil, fmt.Errorf("staging dir is required")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be positive")
	}
	if cfg.MaxBatchInterval <= 0 {
		return nil, fmt.Errorf("max batch interval must be positive")
	}
	if loader == nil {
		return nil, fmt.Errorf("loader is required")
	}

	if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	q := queue.New()
	cache := correlation.New()

	worker, err := uploader.New(cfg.Upload, q, cache, loader)
	if err != nil {
		return nil, fmt.Errorf("create upload worker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pipeline{
		cfg:    cfg,
		loader: loader,
		buf:    buffer.New(),
		queue:  q,
		cache:  cache,
		worker: worker,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start recovers leftover staging files and launches the background tasks.
func (p *Pipeline) Start() error {
	if p.running.Load() {
		return fmt.Errorf("pipeline already running")
	}

	// Re-queue files a previous process staged but never uploaded, in
	// flush order, ahead of anything this process will stage.
	recovered, err := staging.ListStaged(p.cfg.StagingDir)
	if err != nil {
		return fmt.Errorf("recover staged files: %w", err)
	}
	for _, path := range recovered {
		p.queue.Push(path)
	}
	if len(recovered) > 0 {
		p.stats.FilesRecovered.Add(int64(len(recovered)))
		metrics.QueueDepth.Set(float64(p.queue.Len()))
		log.Info("recovered staged files from previous run", "count", len(recovered))
	}

	p.running.Store(true)

	p.wg.Add(1)
	go p.intervalWorker()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.worker.Run(p.ctx)
	}()

	return nil
}

// Stop cancels the background tasks, waits for them, and performs one final
// flush so enqueued samples are staged before exit. The staged file is
// picked up by restart recovery if this process never uploads it.
func (p *Pipeline) Stop() error {
	if !p.running.Load() {
		return nil
	}

	p.running.Store(false)
	p.cancel()
	p.wg.Wait()

	if err := p.Flush(); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}

// Enqueue appends a sample to the intake buffer and returns once it is
// durably enqueued in memory. Never blocks on the upload path. If the
// buffer has crossed the size threshold, the caller synchronously flushes
// it (a concurrent racing flush is harmless: one drains, the other sees an
// empty buffer).
func (p *Pipeline) Enqueue(sample types.Sample) {
	p.buf.Enqueue(sample)
	p.stats.SamplesEnqueued.Add(1)
	metrics.SamplesReceived.Inc()

	if p.buf.Len() > p.cfg.MaxBatchSize {
		// Failures are contained here: the producer's enqueue already
		// completed and must not observe flush errors.
		_ = p.Flush()
	}
}

// Flush drains the buffer and, if the batch is non-empty, stages it to a
// new Parquet file and queues the file for upload. Serialized: concurrent
// invocations take turns, and a trigger that loses the race drains an empty
// buffer and writes nothing. A serialization or write failure loses the
// drained batch (logged, counted, surfaced to the caller) and publishes
// nothing downstream.
func (p *Pipeline) Flush() error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	batch := p.buf.DrainAll()
	if batch.Empty() {
		p.stats.EmptyFlushes.Add(1)
		return nil
	}

	name := staging.FileName(time.Now(), p.flushSeq.Add(1))
	path, err := staging.WriteBatch(p.cfg.StagingDir, name, batch, p.cfg.Staging)
	if err != nil {
		p.stats.FlushErrors.Add(1)
		metrics.FlushErrors.Inc()
		log.Error("flush failed, batch lost", "samples", batch.Len(), "error", err)
		return fmt.Errorf("stage batch: %w", err)
	}

	p.queue.Push(path)

	p.stats.FlushesCompleted.Add(1)
	p.stats.SamplesStaged.Add(int64(batch.Len()))
	metrics.BatchesFlushed.Inc()
	metrics.SamplesStaged.Add(float64(batch.Len()))
	metrics.QueueDepth.Set(float64(p.queue.Len()))

	log.Debug("batch staged", "path", path, "samples", batch.Len())
	return nil
}

// intervalWorker flushes the buffer when samples have been waiting longer
// than the batch interval. Bounds end-to-end latency for low-rate
// producers.
func (p *Pipeline) intervalWorker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.MaxBatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if p.buf.Len() > 0 {
				_ = p.Flush()
			}
		}
	}
}

// BufferLen returns the current intake buffer size.
func (p *Pipeline) BufferLen() int {
	return p.buf.Len()
}

// QueueLen returns the number of staging files awaiting upload.
func (p *Pipeline) QueueLen() int {
	return p.queue.Len()
}

// IsRunning returns whether the pipeline is running.
func (p *Pipeline) IsRunning() bool {
	return p.running.Load()
}

// Stats returns combined pipeline statistics.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Running:          p.running.Load(),
		BufferLen:        p.buf.Len(),
		QueueLen:         p.queue.Len(),
		InFlightIDs:      p.cache.Len(),
		SamplesEnqueued:  p.stats.SamplesEnqueued.Load(),
		FlushesCompleted: p.stats.FlushesCompleted.Load(),
		EmptyFlushes:     p.stats.EmptyFlushes.Load(),
		FlushErrors:      p.stats.FlushErrors.Load(),
		SamplesStaged:    p.stats.SamplesStaged.Load(),
		FilesRecovered:   p.stats.FilesRecovered.Load(),
		Upload:           p.worker.Stats(),
	}
}

// PipelineStats holds combined pipeline statistics.
type PipelineStats struct {
	Running          bool
	BufferLen        int
	QueueLen         int
	InFlightIDs      int
	SamplesEnqueued  int64
	FlushesCompleted int64
	EmptyFlushes     int64
	FlushErrors      int64
	SamplesStaged    int64
	FilesRecovered   int64
	Upload           uploader.WorkerStats
}
