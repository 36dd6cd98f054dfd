package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kandev/nodeforge/internal/domain"
	"github.com/kandev/nodeforge/internal/jobs"
)

func registerAgentProfile(t *testing.T, c *Context, id string) {
	t.Helper()
	require.NoError(t, c.Profiles.Register(&domain.WorkerProfile{
		ID:      id,
		Name:    "Test Agent",
		Kind:    domain.KindAgent,
		Enabled: true,
	}))
}

func TestTaskStartRequiresWorkerOrWorkflowID(t *testing.T) {
	c := newTestContext(t)

	_, err := c.TaskStart(context.Background(), TaskStartInput{Task: "do something"})
	require.Error(t, err)
}

func TestTaskStartWorkerHappyPath(t *testing.T) {
	c := newTestContext(t)
	registerAgentProfile(t, c, "test-agent")

	result, err := c.TaskStart(context.Background(), TaskStartInput{
		Kind:     KindWorker,
		WorkerID: "test-agent",
		Task:     "say hello",
	})
	require.NoError(t, err)
	require.Equal(t, KindWorker, result.Kind)
	require.NotEmpty(t, result.TaskID)

	finished, err := c.TaskAwait(context.Background(), []string{result.TaskID}, 5000)
	require.NoError(t, err)
	require.Len(t, finished, 1)
	require.Equal(t, domain.JobSucceeded, finished[0].Status)
	require.Equal(t, "done", finished[0].ResponseText)
}

func TestTaskStartAutoKindResolvesToWorker(t *testing.T) {
	c := newTestContext(t)
	registerAgentProfile(t, c, "test-agent")

	result, err := c.TaskStart(context.Background(), TaskStartInput{
		WorkerID: "test-agent",
		Task:     "say hello",
	})
	require.NoError(t, err)
	require.Equal(t, KindWorker, result.Kind)
}

func TestTaskStartUnknownWorkerProfileFails(t *testing.T) {
	c := newTestContext(t)

	result, err := c.TaskStart(context.Background(), TaskStartInput{
		Kind:     KindWorker,
		WorkerID: "does-not-exist",
		Task:     "say hello",
	})
	require.Error(t, err)
	require.Nil(t, result)
}

func TestTaskPeekReturnsCurrentJobState(t *testing.T) {
	c := newTestContext(t)
	registerAgentProfile(t, c, "test-agent")

	result, err := c.TaskStart(context.Background(), TaskStartInput{
		Kind:     KindWorker,
		WorkerID: "test-agent",
		Task:     "say hello",
	})
	require.NoError(t, err)

	_, err = c.TaskAwait(context.Background(), []string{result.TaskID}, 5000)
	require.NoError(t, err)

	peeked := c.TaskPeek([]string{result.TaskID})
	require.Len(t, peeked, 1)
	require.Equal(t, domain.JobSucceeded, peeked[0].Status)
}

func TestTaskCancelMarksJobCanceled(t *testing.T) {
	c := newTestContext(t)

	job := c.Jobs.Create(jobs.CreateInput{WorkerID: "test-agent", Message: "say hello"})
	msg := c.TaskCancel([]string{job.ID}, "no longer needed")
	require.Contains(t, msg, job.ID)

	peeked := c.TaskPeek([]string{job.ID})
	require.Len(t, peeked, 1)
	require.Equal(t, domain.JobCanceled, peeked[0].Status)
}

func TestTaskCancelMultipleReportsCount(t *testing.T) {
	c := newTestContext(t)

	jobA := c.Jobs.Create(jobs.CreateInput{WorkerID: "test-agent", Message: "say hello"})
	jobB := c.Jobs.Create(jobs.CreateInput{WorkerID: "test-agent", Message: "say hello"})

	msg := c.TaskCancel([]string{jobA.ID, jobB.ID}, "batch cancel")
	require.Contains(t, msg, "2")
}

func TestTaskAwaitTimesOutOnUnresolvedJob(t *testing.T) {
	c := newTestContext(t)

	job := c.Jobs.Create(jobs.CreateInput{WorkerID: "test-agent", Message: "say hello"})
	_, err := c.TaskAwait(context.Background(), []string{job.ID}, 50)
	require.Error(t, err)

	// Leave the job in a terminal state so Shutdown/cleanup doesn't race
	// a still-running Await in other goroutines.
	c.Jobs.Cancel(job.ID, "test cleanup")
	time.Sleep(10 * time.Millisecond)
}
