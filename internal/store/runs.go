// Package store persists completed balancing runs in SQLite so past
// results survive restarts and can be listed from the CLI and API.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"vmbalance/internal/cqm"
)

// ErrNotFound is returned when a run id has no record.
var ErrNotFound = errors.New("run not found")

// RunRecord is one finished balancing run.
type RunRecord struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	FinishedAt   time.Time `json:"finished_at"`
	NumVMs       int       `json:"num_vms"`
	NumHosts     int       `json:"num_hosts"`
	Priority     string    `json:"priority"`
	TimeLimitS   int       `json:"time_limit_s"`
	FactorBefore float64   `json:"factor_before"`
	FactorAfter  float64   `json:"factor_after"`
	Improvement  float64   `json:"improvement"`
	Plan         cqm.Plan  `json:"plan,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
}

// RunStore manages the run history database.
type RunStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewRunStore creates or opens the run history store at path.
func NewRunStore(path string) (*RunStore, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &RunStore{db: db, dbPath: path}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *RunStore) Path() string {
	return s.dbPath
}

// initSchema creates the database schema.
func (s *RunStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		num_vms INTEGER NOT NULL,
		num_hosts INTEGER NOT NULL,
		priority TEXT NOT NULL,
		time_limit_s INTEGER NOT NULL,
		factor_before REAL NOT NULL,
		factor_after REAL NOT NULL,
		improvement REAL NOT NULL,
		plan_json TEXT,
		status TEXT NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun stores or updates a run record.
func (s *RunStore) SaveRun(r *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		return fmt.Errorf("run record has no id")
	}

	planJSON, err := json.Marshal(r.Plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, created_at, finished_at, num_vms, num_hosts,
			priority, time_limit_s, factor_before, factor_after, improvement,
			plan_json, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			factor_before = excluded.factor_before,
			factor_after = excluded.factor_after,
			improvement = excluded.improvement,
			plan_json = excluded.plan_json,
			status = excluded.status,
			error = excluded.error`,
		r.ID,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.NumVMs,
		r.NumHosts,
		r.Priority,
		r.TimeLimitS,
		r.FactorBefore,
		r.FactorAfter,
		r.Improvement,
		string(planJSON),
		r.Status,
		r.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun returns the record for id, or ErrNotFound.
func (s *RunStore) GetRun(id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, created_at, finished_at, num_vms, num_hosts, priority,
			time_limit_s, factor_before, factor_after, improvement,
			plan_json, status, error
		FROM runs WHERE id = ?`, id)

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return r, nil
}

// ListRuns returns up to limit records, newest first. limit <= 0 selects
// the default of 50.
func (s *RunStore) ListRuns(limit int) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, created_at, finished_at, num_vms, num_hosts, priority,
			time_limit_s, factor_before, factor_after, improvement,
			plan_json, status, error
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return records, nil
}

// DeleteRun removes a record. Deleting a missing id is ErrNotFound.
func (s *RunStore) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var (
		r          RunRecord
		createdAt  string
		finishedAt string
		planJSON   sql.NullString
		errText    sql.NullString
	)
	if err := sc.Scan(&r.ID, &createdAt, &finishedAt, &r.NumVMs, &r.NumHosts,
		&r.Priority, &r.TimeLimitS, &r.FactorBefore, &r.FactorAfter,
		&r.Improvement, &planJSON, &r.Status, &errText); err != nil {
		return nil, err
	}

	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return nil, fmt.Errorf("bad finished_at %q: %w", finishedAt, err)
	}

	if planJSON.Valid && planJSON.String != "" {
		if err := json.Unmarshal([]byte(planJSON.String), &r.Plan); err != nil {
			return nil, fmt.Errorf("bad plan_json: %w", err)
		}
	}
	r.Error = errText.String
	return &r, nil
}
