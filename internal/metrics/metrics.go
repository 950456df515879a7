// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload outcome label values.
const (
	OutcomeSucceeded         = "succeeded"
	OutcomePermanentlyFailed = "permanently_failed"
	OutcomeMissing           = "missing"
)

var (
	// SamplesReceived counts samples accepted by the intake boundary.
	SamplesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parqrelay_samples_received_total",
		Help: "Samples accepted by the intake endpoint and enqueued.",
	})

	// WriteRequests counts intake requests by status.
	WriteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parqrelay_write_requests_total",
		Help: "Remote-write requests by result.",
	}, []string{"status"})

	// BatchesFlushed counts non-empty batches staged to disk.
	BatchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parqrelay_batches_flushed_total",
		Help: "Non-empty batches written to staging files.",
	})

	// SamplesStaged counts samples written to staging files.
	SamplesStaged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parqrelay_samples_staged_total",
		Help: "Samples written to staging files.",
	})

	// FlushErrors counts failed flush attempts (batch lost).
	FlushErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parqrelay_flush_errors_total",
		Help: "Flush attempts that failed to serialize or write.",
	})

	// QueueDepth tracks staging files awaiting upload.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parqrelay_ingestion_queue_depth",
		Help: "Staging files currently queued for upload.",
	})

	// Uploads counts terminal upload outcomes per staging file.
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parqrelay_uploads_total",
		Help: "Staging-file uploads by terminal outcome.",
	}, []string{"outcome"})

	// UploadRetries counts failed upload attempts that will be retried.
	UploadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parqrelay_upload_retries_total",
		Help: "Upload attempts that failed and were scheduled for retry.",
	})
)
