// Package config loads and validates the parqrelayd configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration.
type Config struct {
	// Listen is the HTTP listen address for the intake endpoint.
	Listen string `yaml:"listen"`

	// StagingDir holds Parquet staging files between flush and upload.
	StagingDir string `yaml:"staging_dir"`

	// MaxBodyBytes bounds the size of an intake request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// Batching configures the flush triggers.
	Batching BatchingConfig `yaml:"batching"`

	// Upload configures the ingestion worker.
	Upload UploadConfig `yaml:"upload"`

	// Sink configures the destination analytics database.
	Sink SinkConfig `yaml:"sink"`

	// Parquet configures staging file serialization.
	Parquet ParquetConfig `yaml:"parquet"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`
}

// BatchingConfig configures the flush triggers.
type BatchingConfig struct {
	// MaxBatchSize triggers a flush when the buffer exceeds this many
	// samples. Checked on the intake path after each enqueue.
	MaxBatchSize int `yaml:"max_batch_size"`

	// MaxBatchInterval bounds how long a sample can sit in the buffer
	// before the interval trigger flushes it.
	MaxBatchInterval Duration `yaml:"max_batch_interval"`
}

// UploadConfig configures the ingestion worker.
type UploadConfig struct {
	// MaxRetries bounds upload attempts per staging file.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the fixed wait between attempts for one file.
	RetryBackoff Duration `yaml:"retry_backoff"`

	// PollInterval bounds the worker's sleep while the queue is empty.
	PollInterval Duration `yaml:"poll_interval"`
}

// SinkConfig configures the destination analytics database.
type SinkConfig struct {
	// Path is the DuckDB database file.
	Path string `yaml:"path"`

	// Table is the destination table for samples.
	Table string `yaml:"table"`

	// KeepSource leaves staging files on disk after a successful load
	// (for debugging). Default is to delete them.
	KeepSource bool `yaml:"keep_source"`
}

// ParquetConfig configures staging file serialization.
type ParquetConfig struct {
	// Compression algorithm: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON emits JSON log lines instead of text.
	JSON bool `yaml:"json"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "5s"
// or plain integers (seconds).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var i int
	if err := value.Decode(&i); err == nil {
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "0.0.0.0:9416",
		StagingDir:   "/var/lib/parqrelay/staging",
		MaxBodyBytes: 32 * 1024 * 1024, // 32MB
		Batching: BatchingConfig{
			MaxBatchSize:     5000,
			MaxBatchInterval: Duration(5 * time.Second),
		},
		Upload: UploadConfig{
			MaxRetries:   3,
			RetryBackoff: Duration(time.Second),
			PollInterval: Duration(500 * time.Millisecond),
		},
		Sink: SinkConfig{
			Path:  "/var/lib/parqrelay/parqrelay.duckdb",
			Table: "samples",
		},
		Parquet: ParquetConfig{
			Compression: "zstd",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, applying defaults for fields
// the file omits. Environment variables in the file are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
