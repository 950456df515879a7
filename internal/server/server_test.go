package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"

	"github.com/parqrelay/parqrelay/internal/pipeline"
	"github.com/parqrelay/parqrelay/internal/pipeline/staging"
	"github.com/parqrelay/parqrelay/internal/pipeline/uploader"
	"github.com/parqrelay/parqrelay/internal/sink"
)

type noopLoader struct{}

func (noopLoader) Ingest(ctx context.Context, path, correlationID string) (sink.Result, error) {
	return sink.Result{Rows: 1}, nil
}

func testServer(t *testing.T) (*Server, *pipeline.Pipeline) {
	t.Helper()

	p, err := pipeline.New(pipeline.Config{
		StagingDir:       t.TempDir(),
		MaxBatchSize:     1000,
		MaxBatchInterval: time.Hour,
		Upload: uploader.Config{
			MaxRetries:   1,
			RetryBackoff: time.Millisecond,
			PollInterval: 10 * time.Millisecond,
		},
		Staging: staging.DefaultOptions(),
	}, noopLoader{})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	return New(&Config{Pipeline: p, Listen: "127.0.0.1:0"}), p
}

func encodeWriteRequest(t *testing.T, req *prompb.WriteRequest) []byte {
	t.Helper()
	raw, err := req.Marshal()
	if err != nil {
		t.Fatalf("marshal write request: %v", err)
	}
	return snappy.Encode(nil, raw)
}

func writeRequest(metric string, labels map[string]string, samples ...prompb.Sample) *prompb.WriteRequest {
	pl := []prompb.Label{{Name: "__name__", Value: metric}}
	for k, v := range labels {
		pl = append(pl, prompb.Label{Name: k, Value: v})
	}
	return &prompb.WriteRequest{
		Timeseries: []prompb.TimeSeries{{Labels: pl, Samples: samples}},
	}
}

func TestHandleWrite_AcceptsSamples(t *testing.T) {
	s, p := testServer(t)

	body := encodeWriteRequest(t, writeRequest("cpu_usage",
		map[string]string{"host": "node-1", "core": "0"},
		prompb.Sample{Value: 0.75, Timestamp: 1700000000000},
		prompb.Sample{Value: 0.80, Timestamp: 1700000001000},
	))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/write", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusNoContent, rec.Body.String())
	}
	if got := p.BufferLen(); got != 2 {
		t.Errorf("BufferLen() = %d, want 2", got)
	}
}

func TestHandleWrite_RejectsGarbage(t *testing.T) {
	s, p := testServer(t)

	tests := []struct {
		name string
		body []byte
	}{
		{"not snappy", []byte("plainly not compressed")},
		{"snappy-wrapped garbage", snappy.Encode(nil, []byte{0xff, 0xfe, 0xfd, 0x01})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/write", bytes.NewReader(tt.body))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if got := p.BufferLen(); got != 0 {
				t.Errorf("BufferLen() = %d, want 0", got)
			}
		})
	}
}

// A series with no metric name fails the full request: the valid series
// alongside it must not be enqueued either.
func TestHandleWrite_RejectsUnnamedSeries(t *testing.T) {
	s, p := testServer(t)

	req := writeRequest("cpu_usage", nil, prompb.Sample{Value: 1, Timestamp: 1700000000000})
	req.Timeseries = append(req.Timeseries, prompb.TimeSeries{
		Labels:  []prompb.Label{{Name: "host", Value: "node-2"}},
		Samples: []prompb.Sample{{Value: 2, Timestamp: 1700000000000}},
	})

	httpReq := httptest.NewRequest(http.MethodPost, "/api/v1/write", bytes.NewReader(encodeWriteRequest(t, req)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httpReq)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if got := p.BufferLen(); got != 0 {
		t.Errorf("BufferLen() = %d, want 0", got)
	}
}

func TestHandleWrite_BodyTooLarge(t *testing.T) {
	s, p := testServer(t)
	s.cfg.MaxBodyBytes = 16

	body := encodeWriteRequest(t, writeRequest("cpu_usage",
		map[string]string{"host": "node-1", "rack": "r12", "zone": "eu-west"},
		prompb.Sample{Value: 0.75, Timestamp: 1700000000000},
	))
	if len(body) <= 16 {
		t.Fatalf("test body too small: %d bytes", len(body))
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/write", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	if got := p.BufferLen(); got != 0 {
		t.Errorf("BufferLen() = %d, want 0", got)
	}
}

func TestHandleWrite_MethodNotAllowed(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/write", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleHealth(t *testing.T) {
	s, p := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status before Start = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status after Start = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleStatus(t *testing.T) {
	s, _ := testServer(t)

	body := encodeWriteRequest(t, writeRequest("cpu_usage", nil,
		prompb.Sample{Value: 1, Timestamp: 1700000000000}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/write", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("write status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statusz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var stats pipeline.PipelineStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if stats.SamplesEnqueued != 1 {
		t.Errorf("SamplesEnqueued = %d, want 1", stats.SamplesEnqueued)
	}
}
