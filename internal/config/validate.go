package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.StagingDir == "" {
		errs = append(errs, errors.New("staging_dir is required"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}

	if err := c.Batching.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("batching: %w", err))
	}
	if err := c.Upload.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("upload: %w", err))
	}
	if err := c.Sink.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sink: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the batching configuration.
func (c *BatchingConfig) Validate() error {
	var errs []error

	if c.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("max_batch_size must be positive"))
	}
	if c.MaxBatchInterval.Duration() <= 0 {
		errs = append(errs, errors.New("max_batch_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the upload configuration.
func (c *UploadConfig) Validate() error {
	var errs []error

	if c.MaxRetries <= 0 {
		errs = append(errs, errors.New("max_retries must be positive"))
	}
	if c.RetryBackoff.Duration() < 0 {
		errs = append(errs, errors.New("retry_backoff must not be negative"))
	}
	if c.PollInterval.Duration() <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the sink configuration.
func (c *SinkConfig) Validate() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, errors.New("path is required"))
	}
	if c.Table == "" {
		errs = append(errs, errors.New("table is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
