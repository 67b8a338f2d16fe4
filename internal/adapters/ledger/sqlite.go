// Package ledger persists job records in a SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/geofetch/internal/domain"
)

const driverName = "sqlite3_ledger"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// Jobs finish concurrently; wait for the write lock instead of failing.
			if _, err := conn.Exec("PRAGMA busy_timeout = 5000", []driver.Value{}); err != nil {
				return err
			}
			_, err := conn.Exec("PRAGMA journal_mode = WAL", []driver.Value{})
			return err
		},
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	boundary    TEXT NOT NULL,
	status      TEXT NOT NULL,
	outputs     TEXT NOT NULL DEFAULT '[]',
	error       TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS jobs_created_at ON jobs (created_at);
`

// SQLite implements the JobLedger port.
type SQLite struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Open opens or creates the ledger database at path.
func Open(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "migrate", Key: path, Err: err}
	}

	return &SQLite{db: db, path: path}, nil
}

// Save inserts the job or replaces the stored record with the same ID.
func (l *SQLite) Save(ctx context.Context, job *domain.Job) error {
	outputs, err := json.Marshal(nonNil(job.Outputs))
	if err != nil {
		return fmt.Errorf("encoding outputs: %w", err)
	}
	details, err := json.Marshal(job.Details)
	if err != nil {
		return fmt.Errorf("encoding details: %w", err)
	}

	var finished sql.NullString
	if job.FinishedAt != nil {
		finished = sql.NullString{String: formatTime(*job.FinishedAt), Valid: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, boundary, status, outputs, error, details, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			outputs = excluded.outputs,
			error = excluded.error,
			details = excluded.details,
			finished_at = excluded.finished_at`,
		job.ID, string(job.Kind), job.Boundary, string(job.Status),
		string(outputs), job.Error, string(details),
		formatTime(job.CreatedAt), finished,
	)
	if err != nil {
		return &domain.StorageError{Operation: "save", Key: job.ID, Err: err}
	}
	return nil
}

// Get returns the job with the given ID.
func (l *SQLite) Get(ctx context.Context, id string) (*domain.Job, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	row := l.db.QueryRowContext(ctx, `
		SELECT id, kind, boundary, status, outputs, error, details, created_at, finished_at
		FROM jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrJobNotFound)
	}
	if err != nil {
		return nil, &domain.StorageError{Operation: "get", Key: id, Err: err}
	}
	return job, nil
}

// List returns up to limit jobs, newest first. A limit of zero or less
// returns all jobs.
func (l *SQLite) List(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = -1
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, kind, boundary, status, outputs, error, details, created_at, finished_at
		FROM jobs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, &domain.StorageError{Operation: "list", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, &domain.StorageError{Operation: "list", Err: err}
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Operation: "list", Err: err}
	}
	return jobs, nil
}

// Close closes the database.
func (l *SQLite) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*domain.Job, error) {
	var (
		job              domain.Job
		kind, status     string
		outputs, details string
		created          string
		finished         sql.NullString
	)
	if err := s.Scan(&job.ID, &kind, &job.Boundary, &status, &outputs, &job.Error, &details, &created, &finished); err != nil {
		return nil, err
	}
	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)

	if err := json.Unmarshal([]byte(outputs), &job.Outputs); err != nil {
		return nil, fmt.Errorf("decoding outputs: %w", err)
	}
	if err := json.Unmarshal([]byte(details), &job.Details); err != nil {
		return nil, fmt.Errorf("decoding details: %w", err)
	}
	if len(job.Outputs) == 0 {
		job.Outputs = nil
	}

	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	job.CreatedAt = t

	if finished.Valid {
		t, err := time.Parse(timeLayout, finished.String)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		job.FinishedAt = &t
	}
	return &job, nil
}

// timeLayout has a fixed width so that text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
