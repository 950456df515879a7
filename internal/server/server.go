// Package server exposes the HTTP intake surface: a Prometheus
// remote-write endpoint feeding the pipeline, plus health, status, and
// metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang/snappy"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/prometheus/prompb"

	"github.com/parqrelay/parqrelay/internal/logging"
	"github.com/parqrelay/parqrelay/internal/metrics"
	"github.com/parqrelay/parqrelay/internal/pipeline"
	"github.com/parqrelay/parqrelay/internal/pipeline/types"
)

var log = logging.Component("server")

// DefaultMaxBodyBytes caps a remote-write request body when the
// configuration does not say otherwise.
const DefaultMaxBodyBytes = 16 << 20 // 16 MiB

// Config holds server configuration.
type Config struct {
	// Pipeline receives every decoded sample (required).
	Pipeline *pipeline.Pipeline

	// Listen is the address to listen on (e.g., "0.0.0.0:9416").
	Listen string

	// MaxBodyBytes caps the size of a request body. Zero uses
	// DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Server is the HTTP intake server.
type Server struct {
	cfg  *Config
	pipe *pipeline.Pipeline
	http *http.Server
}

// New creates a new server.
func New(cfg *Config) *Server {
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		cfg:  cfg,
		pipe: cfg.Pipeline,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/write", s.handleWrite).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/statusz", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Run starts the server and blocks until Shutdown is called or the
// listener fails.
func (s *Server) Run() error {
	log.Info("listening", "address", s.cfg.Listen)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down")
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// handleWrite accepts a snappy-compressed remote-write request. The
// request is decoded and validated in full before any sample is enqueued,
// so a malformed body enqueues nothing.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		metrics.WriteRequests.WithLabelValues("rejected").Inc()
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, fmt.Sprintf("body exceeds %d bytes", maxErr.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	raw, err := snappy.Decode(nil, body)
	if err != nil {
		metrics.WriteRequests.WithLabelValues("rejected").Inc()
		http.Error(w, "snappy decode: "+err.Error(), http.StatusBadRequest)
		return
	}

	var req prompb.WriteRequest
	if err := req.Unmarshal(raw); err != nil {
		metrics.WriteRequests.WithLabelValues("rejected").Inc()
		http.Error(w, "decode write request: "+err.Error(), http.StatusBadRequest)
		return
	}

	samples, err := decodeSamples(&req)
	if err != nil {
		metrics.WriteRequests.WithLabelValues("rejected").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, sample := range samples {
		s.pipe.Enqueue(sample)
	}

	metrics.WriteRequests.WithLabelValues("accepted").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// decodeSamples flattens a write request into pipeline samples. A series
// without a metric name fails the whole request.
func decodeSamples(req *prompb.WriteRequest) ([]types.Sample, error) {
	var out []types.Sample
	for i, ts := range req.Timeseries {
		labels := make(map[string]string, len(ts.Labels))
		for _, l := range ts.Labels {
			labels[l.Name] = l.Value
		}

		metric, ok := labels[types.MetricNameLabel]
		if !ok || metric == "" {
			return nil, fmt.Errorf("series %d has no metric name", i)
		}
		canonical := types.CanonicalLabels(labels)

		for _, sp := range ts.Samples {
			out = append(out, types.Sample{
				Metric:      metric,
				Labels:      canonical,
				TimestampMs: sp.Timestamp,
				Value:       sp.Value,
			})
		}
	}
	return out, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.pipe.IsRunning() {
		http.Error(w, "pipeline not running", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok\n")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.pipe.Stats()); err != nil {
		log.Error("encode status", "error", err)
	}
}
