package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"rigup/internal/stage"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump when the schema changes;
// the journal holds history only, so operators can simply delete the file.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the
// expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Store manages run history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Run is one recorded provisioning run.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    *time.Time
	KernelRelease string
	Status        string
	Error         string
}

// StepRecord is one recorded step outcome within a run.
type StepRecord struct {
	RunID    string
	Seq      int
	Name     string
	Policy   stage.Policy
	Status   stage.Status
	Detail   string
	Error    string
	Duration time.Duration
}

// Run statuses persisted in the journal.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Open initializes or connects to the journal database.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset history)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
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
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// BeginRun records the start of a provisioning run.
func (s *Store) BeginRun(ctx context.Context, id, kernelRelease string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, kernel_release, status) VALUES (?, ?, ?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339Nano), kernelRelease, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordStep appends one step outcome to a run.
func (s *Store) RecordStep(ctx context.Context, rec StepRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, seq, name, policy, status, detail, error, duration_ms)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Seq, rec.Name, string(rec.Policy), string(rec.Status),
		nullableString(rec.Detail), nullableString(rec.Error), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert step outcome: %w", err)
	}
	return nil
}

// FinishRun marks a run finished with the given status and optional error.
func (s *Store) FinishRun(ctx context.Context, id, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), status, nullableString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, kernel_release, status, error
         FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run              Run
			started          string
			finished, errMsg sql.NullString
		)
		if err := rows.Scan(&run.ID, &started, &finished, &run.KernelRelease, &run.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse run start time: %w", err)
		}
		if finished.Valid {
			ts, err := time.Parse(time.RFC3339Nano, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parse run finish time: %w", err)
			}
			run.FinishedAt = &ts
		}
		run.Error = errMsg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunSteps returns the recorded step outcomes for a run in execution order.
func (s *Store) RunSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, name, policy, status, detail, error, duration_ms
         FROM run_steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var (
			rec            StepRecord
			policy, status string
			detail, errMsg sql.NullString
			durationMS     int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.Name, &policy, &status, &detail, &errMsg, &durationMS); err != nil {
			return nil, fmt.Errorf("scan step outcome: %w", err)
		}
		rec.Policy = stage.Policy(policy)
		rec.Status = stage.Status(status)
		rec.Detail = detail.String
		rec.Error = errMsg.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, rec)
	}
	return steps, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
