// Package queue provides the ordered hand-off channel of pending
// staging-file paths between the staging writer and the ingestion worker.
package queue

import (
	"sync"
	"sync/atomic"
)

// Queue is a concurrency-safe FIFO of staging-file paths. Push never blocks;
// the worker drains with Pop and parks on Wake while the queue is empty.
type Queue struct {
	mu    sync.Mutex
	paths []string
	wake  chan struct{}

	pushCount atomic.Int64
	popCount  atomic.Int64
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
	}
}

// Push appends a path to the tail of the queue and wakes the worker.
func (q *Queue) Push(path string) {
	q.mu.Lock()
	q.paths = append(q.paths, path)
	q.mu.Unlock()

	q.pushCount.Add(1)

	// Non-blocking: a pending wakeup already covers this push.
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop removes and returns the head of the queue.
// Returns false if the queue is empty.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.paths) == 0 {
		return "", false
	}

	path := q.paths[0]
	q.paths = q.paths[1:]
	q.popCount.Add(1)
	return path, true
}

// Len returns the current number of queued paths.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.paths)
}

// Wake returns a channel that receives after a Push. It is a hint, not a
// count: one wakeup may cover several pushes, so a woken worker must Pop
// until the queue is empty.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Stats returns queue statistics.
func (q *Queue) Stats() Stats {
	return Stats{
		Len:       q.Len(),
		PushCount: q.pushCount.Load(),
		PopCount:  q.popCount.Load(),
	}
}

// Stats holds queue statistics.
type Stats struct {
	Len       int
	PushCount int64
	PopCount  int64
}
