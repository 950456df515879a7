// Package buffer provides the concurrent intake buffer holding decoded
// samples until they are drained into a batch.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/parqrelay/parqrelay/internal/pipeline/types"
)

// Buffer is a thread-safe append queue for samples pending batching.
// It is unbounded by policy: Enqueue never blocks and never fails. Growth
// is bounded in practice by the flush threshold checked on the intake path.
type Buffer struct {
	mu      sync.Mutex
	samples []types.Sample

	// Statistics
	enqueueCount atomic.Int64
	drainCount   atomic.Int64
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Enqueue appends a sample and returns immediately.
// Safe for unbounded concurrent callers.
func (b *Buffer) Enqueue(sample types.Sample) {
	b.mu.Lock()
	b.samples = append(b.samples, sample)
	b.mu.Unlock()

	b.enqueueCount.Add(1)
}

// Len returns the current number of buffered samples.
// Safe to call concurrently with Enqueue and DrainAll.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// DrainAll atomically removes and returns all buffered samples as a batch,
// in enqueue order. Every sample enqueued before the drain appears in
// exactly one drain; samples enqueued after do not appear in this one.
// Draining an empty buffer returns an empty batch.
func (b *Buffer) DrainAll() types.Batch {
	b.mu.Lock()
	drained := b.samples
	b.samples = nil
	b.mu.Unlock()

	b.drainCount.Add(int64(len(drained)))
	return types.Batch{Samples: drained}
}

// Stats returns buffer statistics.
func (b *Buffer) Stats() Stats {
	return Stats{
		Len:          b.Len(),
		EnqueueCount: b.enqueueCount.Load(),
		DrainCount:   b.drainCount.Load(),
	}
}

// Stats holds buffer statistics.
type Stats struct {
	Len          int
	EnqueueCount int64
	DrainCount   int64
}
