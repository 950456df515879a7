package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/parqrelay/parqrelay/internal/pipeline/types"
)

func TestBuffer_EnqueueDrain(t *testing.T) {
	b := New()

	for i := 0; i < 10; i++ {
		b.Enqueue(types.Sample{Metric: "up", TimestampMs: int64(i), Value: float64(i)})
	}

	if b.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", b.Len())
	}

	batch := b.DrainAll()
	if batch.Len() != 10 {
		t.Fatalf("drained %d samples, want 10", batch.Len())
	}

	// Enqueue order preserved
	for i, s := range batch.Samples {
		if s.TimestampMs != int64(i) {
			t.Errorf("sample %d has timestamp %d, want %d", i, s.TimestampMs, i)
		}
	}

	if b.Len() != 0 {
		t.Errorf("Len() = %d after drain, want 0", b.Len())
	}
}

func TestBuffer_DrainEmpty(t *testing.T) {
	b := New()

	batch := b.DrainAll()
	if !batch.Empty() {
		t.Errorf("drain of empty buffer returned %d samples", batch.Len())
	}
}

func TestBuffer_ConcurrentEnqueue(t *testing.T) {
	b := New()

	const producers = 8
	const perProducer = 1000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Enqueue(types.Sample{
					Metric: fmt.Sprintf("metric_%d", p),
					Value:  float64(i),
				})
			}
		}(p)
	}
	wg.Wait()

	if b.Len() != producers*perProducer {
		t.Errorf("Len() = %d, want %d", b.Len(), producers*perProducer)
	}

	batch := b.DrainAll()
	if batch.Len() != producers*perProducer {
		t.Errorf("drained %d, want %d", batch.Len(), producers*perProducer)
	}
}

// Every enqueued sample must land in exactly one drain, even when drains
// race with producers.
func TestBuffer_ConcurrentEnqueueAndDrain(t *testing.T) {
	b := New()

	const producers = 4
	const perProducer = 5000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Enqueue(types.Sample{
					Metric:      fmt.Sprintf("metric_%d", p),
					TimestampMs: int64(i),
				})
			}
		}(p)
	}

	// Drain continuously while producers run.
	seen := make(map[string]int)
	record := func(batch types.Batch) {
		for i := range batch.Samples {
			s := &batch.Samples[i]
			seen[fmt.Sprintf("%s/%d", s.Metric, s.TimestampMs)]++
		}
	}

	stop := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			record(b.DrainAll())
			select {
			case <-stop:
				// One final drain after all producers finished.
				record(b.DrainAll())
				return
			default:
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-drained

	if len(seen) != producers*perProducer {
		t.Fatalf("saw %d distinct samples, want %d", len(seen), producers*perProducer)
	}
	for key, count := range seen {
		if count != 1 {
			t.Fatalf("sample %s drained %d times, want exactly once", key, count)
		}
	}
}

func TestBuffer_Stats(t *testing.T) {
	b := New()

	for i := 0; i < 5; i++ {
		b.Enqueue(types.Sample{Metric: "up"})
	}
	b.DrainAll()
	b.Enqueue(types.Sample{Metric: "up"})

	stats := b.Stats()
	if stats.EnqueueCount != 6 {
		t.Errorf("EnqueueCount = %d, want 6", stats.EnqueueCount)
	}
	if stats.DrainCount != 5 {
		t.Errorf("DrainCount = %d, want 5", stats.DrainCount)
	}
	if stats.Len != 1 {
		t.Errorf("Len = %d, want 1", stats.Len)
	}
}

func BenchmarkBuffer_Enqueue(b *testing.B) {
	buf := New()
	sample := types.Sample{Metric: "up", Value: 1}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Enqueue(sample)
		if buf.Len() > 100000 {
			buf.DrainAll()
		}
	}
}
