package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

// tableNameRe bounds what we will interpolate into DDL/DML. Table names come
// from config, not user input, but the loader builds SQL with Sprintf.
var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures the DuckDB loader.
type Config struct {
	// Path is the DuckDB database file. Empty means in-memory (tests).
	Path string

	// Table is the destination table for samples.
	Table string

	// DeleteSource removes the staging file after a successful load.
	DeleteSource bool
}

// DuckDB loads Parquet staging files into a DuckDB table.
//
// Idempotency: every load runs in one transaction that first checks the
// ingest_log table for the correlation id. A known id commits without
// touching the samples table, so retried uploads of an already-applied
// batch are no-ops.
type DuckDB struct {
	mu     sync.Mutex
	db     *sql.DB
	cfg    Config
	closed bool

	// Statistics
	stats Stats
}

// Stats holds loader statistics.
type Stats struct {
	Loads      int64
	Duplicates int64
	RowsLoaded int64
	Errors     int64
}

// OpenDuckDB opens (or creates) the DuckDB database and ensures the
// destination and ingest-log tables exist.
func OpenDuckDB(cfg Config) (*DuckDB, error) {
	if cfg.Table == "" {
		cfg.Table = "samples"
	}
	if !tableNameRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			metric VARCHAR NOT NULL,
			labels VARCHAR NOT NULL,
			timestamp_ms BIGINT NOT NULL,
			value DOUBLE NOT NULL
		)`, cfg.Table),
		`CREATE TABLE IF NOT EXISTS ingest_log (
			correlation_id VARCHAR PRIMARY KEY,
			source_file VARCHAR NOT NULL,
			row_count BIGINT NOT NULL,
			loaded_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}

	return &DuckDB{db: db, cfg: cfg}, nil
}

// Ingest loads one staging file into the destination table. The correlation
// id identifies the logical batch: ids recorded in ingest_log are skipped.
// The source file is deleted on success when DeleteSource is set.
func (d *DuckDB) Ingest(ctx context.Context, path, correlationID string) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Result{}, ErrClosed
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// The file may have been loaded and deleted by an earlier attempt
		// whose acknowledgment was lost. If the correlation id is logged,
		// report a duplicate; otherwise surface the missing source.
		logged, err := d.isLogged(ctx, correlationID)
		if err != nil {
			d.stats.Errors++
			return Result{}, err
		}
		if logged {
			d.stats.Duplicates++
			return Result{Duplicate: true}, nil
		}
		d.stats.Errors++
		return Result{}, fmt.Errorf("%w: %s", ErrSourceMissing, path)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		d.stats.Errors++
		return Result{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var known int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM ingest_log WHERE correlation_id = $1`,
		correlationID,
	).Scan(&known); err != nil {
		d.stats.Errors++
		return Result{}, fmt.Errorf("check ingest log: %w", err)
	}

	if known > 0 {
		d.stats.Duplicates++
		return Result{Duplicate: true}, nil
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s SELECT metric, labels, timestamp_ms, value FROM read_parquet($1)`,
		d.cfg.Table,
	), path)
	if err != nil {
		d.stats.Errors++
		return Result{}, fmt.Errorf("load parquet: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		rows = 0
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingest_log (correlation_id, source_file, row_count) VALUES ($1, $2, $3)`,
		correlationID, path, rows,
	); err != nil {
		d.stats.Errors++
		return Result{}, fmt.Errorf("record ingest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		d.stats.Errors++
		return Result{}, fmt.Errorf("commit: %w", err)
	}

	d.stats.Loads++
	d.stats.RowsLoaded += rows

	if d.cfg.DeleteSource {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			// The load committed; a leftover file is re-recognized as a
			// duplicate on the next attempt, so only log-worthy.
			return Result{Rows: rows}, fmt.Errorf("remove source: %w", err)
		}
	}

	return Result{Rows: rows}, nil
}

// isLogged reports whether a correlation id has already been ingested.
func (d *DuckDB) isLogged(ctx context.Context, correlationID string) (bool, error) {
	var n int
	if err := d.db.QueryRowContext(ctx,
		`SELECT count(*) FROM ingest_log WHERE correlation_id = $1`,
		correlationID,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("check ingest log: %w", err)
	}
	return n > 0, nil
}

// TotalRows returns the number of rows in the destination table.
func (d *DuckDB) TotalRows(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}

	var n int64
	err := d.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s`, d.cfg.Table),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// MetricRows returns the number of rows stored for a metric.
func (d *DuckDB) MetricRows(ctx context.Context, metric string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}

	var n int64
	err := d.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s WHERE metric = $1`, d.cfg.Table),
		metric,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count metric rows: %w", err)
	}
	return n, nil
}

// Stats returns loader statistics.
func (d *DuckDB) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Close closes the underlying database.
func (d *DuckDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}
