package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parqrelay/parqrelay/internal/pipeline/types"
)

const (
	// FilePrefix and FileExt frame every staging file name.
	FilePrefix = "samples-"
	FileExt    = ".parquet"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("staging writer is closed")

// Options configures staging file serialization.
type Options struct {
	// Compression algorithm for sample columns.
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default staging options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// Row represents a sample in the staging file format.
type Row struct {
	Metric      string  `parquet:"metric,zstd"`
	Labels      string  `parquet:"labels,zstd"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Value       float64 `parquet:"value"`
}

// SampleToRow converts a Sample to a Row.
func SampleToRow(s *types.Sample) Row {
	return Row{
		Metric:      s.Metric,
		Labels:      s.Labels,
		TimestampMs: s.TimestampMs,
		Value:       s.Value,
	}
}

// RowToSample converts a Row to a Sample.
func RowToSample(r *Row) types.Sample {
	return types.Sample{
		Metric:      r.Metric,
		Labels:      r.Labels,
		TimestampMs: r.TimestampMs,
		Value:       r.Value,
	}
}

// FileName builds a staging file name from a flush timestamp and a sequence
// number. The zero-padded nanosecond timestamp keeps lexical order equal to
// flush order; the sequence disambiguates flushes landing on the same
// nanosecond.
func FileName(ts time.Time, seq uint64) string {
	return fmt.Sprintf("%s%020d-%06d%s", FilePrefix, ts.UTC().UnixNano(), seq, FileExt)
}

// IsStagingFile reports whether name looks like a staging file name.
func IsStagingFile(name string) bool {
	return strings.HasPrefix(name, FilePrefix) && strings.HasSuffix(name, FileExt)
}

// ListStaged returns the full paths of all staging files in dir, sorted in
// flush order. Used on startup to recover files a previous process staged
// but never uploaded.
func ListStaged(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read staging dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsStagingFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(paths)
	return paths, nil
}

// Writer writes a batch of samples to a single Parquet staging file.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[Row]
	rowCount int64
	closed   bool
}

// NewWriter creates a staging file writer for the given path.
func NewWriter(path string, opts Options) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[Row](f,
		parquet.Compression(getCompression(opts.Compression)),
	)

	return &Writer{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write appends samples to the staging file, preserving order.
func (w *Writer) Write(samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]Row, len(samples))
	for i := range samples {
		rows[i] = SampleToRow(&samples[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close finalizes the Parquet footer and syncs the file to disk. The file
// is durable once Close returns without error.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync file: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}

// WriteBatch serializes a non-empty batch to a new staging file in dir and
// returns the file path. The file is fully written and synced before the
// path is returned; on any error the partial file is removed so no torn
// file can be published downstream.
func WriteBatch(dir string, name string, batch types.Batch, opts Options) (string, error) {
	if batch.Empty() {
		return "", fmt.Errorf("refusing to stage an empty batch")
	}

	path := filepath.Join(dir, name)

	w, err := NewWriter(path, opts)
	if err != nil {
		return "", err
	}

	if err := w.Write(batch.Samples); err != nil {
		w.Close()
		os.Remove(path)
		return "", err
	}

	if err := w.Close(); err != nil {
		os.Remove(path)
		return "", err
	}

	return path, nil
}
