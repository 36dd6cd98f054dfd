// Package store persists paused workflow run state to sqlite so a run
// survives an orchestrator restart while it waits on UI intervention.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kandev/nodeforge/internal/domain"
)

// Store is a sqlite-backed repository for paused WorkflowRunState.
type Store struct {
	db *sqlx.DB
}

// Open creates or connects to the sqlite database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open workflow store: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-open database handle, for callers that share
// one sqlite connection across several stores.
func NewWithDB(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflow_runs (
		run_id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		status TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init workflow_runs schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePaused upserts a run's full state. Callers are expected to only call
// this while run.Status == domain.RunPaused; the store itself does not
// enforce that invariant.
func (s *Store) SavePaused(ctx context.Context, run *domain.WorkflowRunState) error {
	stateJSON, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal workflow run state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO workflow_runs (run_id, workflow_id, status, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at
	`), run.RunID, run.WorkflowID, string(run.Status), string(stateJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save workflow run %s: %w", run.RunID, err)
	}
	return nil
}

// Load retrieves a run's persisted state by id. Returns nil, nil if no
// row exists.
func (s *Store) Load(ctx context.Context, runID string) (*domain.WorkflowRunState, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT state FROM workflow_runs WHERE run_id = ?
	`), runID).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow run %s: %w", runID, err)
	}

	var run domain.WorkflowRunState
	if err := json.Unmarshal([]byte(stateJSON), &run); err != nil {
		return nil, fmt.Errorf("unmarshal workflow run %s: %w", runID, err)
	}
	return &run, nil
}

// Delete removes a run's persisted state. Called once a run leaves the
// paused state for good, either by resuming to completion or by
// terminating.
func (s *Store) Delete(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM workflow_runs WHERE run_id = ?`), runID)
	if err != nil {
		return fmt.Errorf("delete workflow run %s: %w", runID, err)
	}
	return nil
}

// ListPaused returns every run currently persisted in the paused state,
// used to report orphaned runs after an orchestrator restart.
func (s *Store) ListPaused(ctx context.Context) ([]*domain.WorkflowRunState, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT state FROM workflow_runs WHERE status = ? ORDER BY updated_at DESC
	`), string(domain.RunPaused))
	if err != nil {
		return nil, fmt.Errorf("list paused workflow runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.WorkflowRunState
	for rows.Next() {
		var stateJSON string
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, err
		}
		var run domain.WorkflowRunState
		if err := json.Unmarshal([]byte(stateJSON), &run); err != nil {
			return nil, fmt.Errorf("unmarshal paused workflow run: %w", err)
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}
