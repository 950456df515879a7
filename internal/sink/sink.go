// Package sink defines the bulk-loader boundary to the columnar analytics
// sink and provides the DuckDB implementation.
package sink

import (
	"context"
	"errors"
)

// Sentinel errors for loader conditions.
var (
	// ErrClosed is returned when ingesting through a closed loader.
	ErrClosed = errors.New("sink is closed")

	// ErrSourceMissing is returned when the staging file does not exist.
	ErrSourceMissing = errors.New("source file missing")
)

// Result describes the outcome of one bulk load.
type Result struct {
	// Rows is the number of rows applied by this call. Zero when the
	// correlation id had already been ingested.
	Rows int64

	// Duplicate is true when the sink recognized the correlation id and
	// skipped re-applying the batch.
	Duplicate bool
}

// Loader is the bulk-load capability of the analytics sink. Implementations
// must treat a correlation id as the identity of a logical batch: a repeated
// Ingest with an id that already completed must succeed without applying
// the batch again. On success the source file is deleted when the loader is
// configured to do so.
type Loader interface {
	Ingest(ctx context.Context, path, correlationID string) (Result, error)
}
