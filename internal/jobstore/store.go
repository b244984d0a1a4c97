// Package jobstore persists per-job state across runs so incremental runs
// can skip work that is already done. It is backed by SQLite in the state
// directory; the records file remains the output of record, this store only
// answers "have we classified this before, and with what".
package jobstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chipscore/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current database layout version. A mismatch means
// the database predates a layout change and must be cleared.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database layout version doesn't match.
var ErrSchemaMismatch = errors.New("job store schema mismatch")

// ErrNotFound indicates the job key has no stored state.
var ErrNotFound = errors.New("job not found")

// Job statuses. done and failed are terminal; the rest mirror pipeline
// phases for observability.
const (
	StatusQueued     = "queued"
	StatusRendering  = "rendering"
	StatusExtracting = "extracting"
	StatusPredicting = "predicting"
	StatusPersisting = "persisting"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job is the stored state for one job key.
type Job struct {
	Key           string
	SourcePath    string
	SubIndex      int
	Status        string
	Engine        string
	Variant       string
	SchemaVersion string
	ContentHash   string
	Error         string
	CreatedAt     string
	UpdatedAt     string
	CompletedAt   string
}

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database in the state directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.StateDir, "jobs.db"))
}

// OpenPath opens the job database at an explicit location. The pragmas ride
// the DSN so every connection in the database/sql pool gets them; lanes
// hit the store concurrently and each connection needs its own busy
// timeout.
func OpenPath(dbPath string) (*Store, error) {
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (run 'chipscore status --clear' or delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Upsert registers a job as queued, preserving created_at and terminal
// state metadata from prior runs.
func (s *Store) Upsert(ctx context.Context, key, sourcePath string, subIndex int) error {
	now := timestamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_key, source_path, sub_index, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(job_key) DO UPDATE SET
           source_path = excluded.source_path,
           sub_index = excluded.sub_index,
           updated_at = excluded.updated_at`,
		key, sourcePath, subIndex, StatusQueued, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", key, err)
	}
	return nil
}

// SetStatus records a phase transition.
func (s *Store) SetStatus(ctx context.Context, key, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, updated_at = ? WHERE job_key = ?",
		status, timestamp(), key,
	)
	if err != nil {
		return fmt.Errorf("set status for %s: %w", key, err)
	}
	return requireRow(res, key)
}

// MarkDone records a successful classification with its provenance.
func (s *Store) MarkDone(ctx context.Context, key, engine, variant, featureSchema, contentHash string) error {
	now := timestamp()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, engine = ?, variant = ?, schema_version = ?,
           content_hash = ?, error = '', updated_at = ?, completed_at = ?
         WHERE job_key = ?`,
		StatusDone, engine, variant, featureSchema, contentHash, now, now, key,
	)
	if err != nil {
		return fmt.Errorf("mark done %s: %w", key, err)
	}
	return requireRow(res, key)
}

// MarkFailed records a terminal failure with its message.
func (s *Store) MarkFailed(ctx context.Context, key, message string) error {
	now := timestamp()
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, error = ?, updated_at = ?, completed_at = ? WHERE job_key = ?",
		StatusFailed, message, now, now, key,
	)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", key, err)
	}
	return requireRow(res, key)
}

func requireRow(res sql.Result, key string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", key, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

const jobColumns = `job_key, source_path, sub_index, status, engine, variant,
  schema_version, content_hash, error, created_at, updated_at, COALESCE(completed_at, '')`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var job Job
	err := row.Scan(&job.Key, &job.SourcePath, &job.SubIndex, &job.Status,
		&job.Engine, &job.Variant, &job.SchemaVersion, &job.ContentHash,
		&job.Error, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Get returns the stored state for one job key.
func (s *Store) Get(ctx context.Context, key string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE job_key = ?", key)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", key, err)
	}
	return job, nil
}

// List returns jobs, optionally filtered by status, ordered by key.
func (s *Store) List(ctx context.Context, status string) ([]Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY job_key"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Stats returns job counts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// CanSkip reports whether a job is already classified for the same source
// content and feature schema. Anything else (never seen, failed, content
// drift, schema bump) reprocesses.
func (s *Store) CanSkip(ctx context.Context, key, contentHash, featureSchema string) (bool, error) {
	job, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return job.Status == StatusDone &&
		job.ContentHash == contentHash &&
		job.SchemaVersion == featureSchema, nil
}

// Clear removes all stored job state.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM jobs"); err != nil {
		return fmt.Errorf("clear jobs: %w", err)
	}
	return nil
}
