package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/nodeforge/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRun(runID string) *domain.WorkflowRunState {
	return &domain.WorkflowRunState{
		RunID:      runID,
		WorkflowID: "review-then-fix",
		Task:       "review the diff",
		Status:     domain.RunPaused,
		UI:         domain.WorkflowUIPolicy{Execution: domain.ExecutionStep},
		Limits:     domain.WorkflowLimits{MaxSteps: 10, MaxTaskChars: 10000, MaxCarryChars: 20000},
		Steps: []domain.WorkflowStepResult{
			{ID: "step-1", WorkerID: "coder", Status: domain.StepSuccess},
		},
		StartedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := testRun("run-1")

	require.NoError(t, s.SavePaused(ctx, run))

	got, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, run.WorkflowID, got.WorkflowID)
	assert.Equal(t, domain.RunPaused, got.Status)
	assert.Len(t, got.Steps, 1)
}

func TestLoadMissingRunReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Load(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveOverwritesExistingRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := testRun("run-1")
	require.NoError(t, s.SavePaused(ctx, run))

	run.Status = domain.RunRunning
	run.Task = "updated task"
	require.NoError(t, s.SavePaused(ctx, run))

	got, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "updated task", got.Task)
}

func TestDeleteRemovesRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePaused(ctx, testRun("run-1")))

	require.NoError(t, s.Delete(ctx, "run-1"))

	got, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListPausedOnlyReturnsPausedRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	paused := testRun("run-paused")
	require.NoError(t, s.SavePaused(ctx, paused))

	running := testRun("run-running")
	running.Status = domain.RunRunning
	require.NoError(t, s.SavePaused(ctx, running))

	out, err := s.ListPaused(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "run-paused", out[0].RunID)
}
