package types

import (
	"sort"
	"strings"
	"time"
)

// MetricNameLabel is the label that carries the metric name on the wire.
const MetricNameLabel = "__name__"

// Sample represents a single time-series measurement pushed by an agent.
// This is the primary data unit flowing through the pipeline. Samples are
// immutable values; the pipeline never inspects or rewrites them beyond
// serialization.
type Sample struct {
	// Metric is the metric name (e.g., "node_cpu_seconds_total").
	Metric string

	// Labels is the canonical label string for the series, sorted by
	// label name and joined as "name=value,name=value". The metric name
	// label is not included.
	Labels string

	// TimestampMs is the sample timestamp in Unix milliseconds.
	TimestampMs int64

	// Value is the sample value.
	Value float64
}

// TimestampTime returns the timestamp as a time.Time.
func (s *Sample) TimestampTime() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// Key returns a unique identifier for this sample's series.
func (s *Sample) Key() string {
	if s.Labels == "" {
		return s.Metric
	}
	return s.Metric + "{" + s.Labels + "}"
}

// CanonicalLabels builds the canonical label string from a label map.
// Labels are sorted by name; the metric name label is skipped.
func CanonicalLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	names := make([]string, 0, len(labels))
	for name := range labels {
		if name == MetricNameLabel {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(labels[name])
	}
	return sb.String()
}

// Batch is an ordered set of samples drained from the intake buffer in one
// flush operation. A batch preserves enqueue order and is consumed exactly
// once by the staging writer.
type Batch struct {
	Samples []Sample
}

// Len returns the number of samples in the batch.
func (b *Batch) Len() int {
	return len(b.Samples)
}

// Empty returns true if the batch holds no samples.
func (b *Batch) Empty() bool {
	return len(b.Samples) == 0
}
