package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/backend"
	"github.com/kandev/nodeforge/internal/common/apperr"
	"github.com/kandev/nodeforge/internal/domain"
	"github.com/kandev/nodeforge/internal/jobs"
	"github.com/kandev/nodeforge/internal/pool"
	"github.com/kandev/nodeforge/internal/workflow/runner"
)

// TaskKind distinguishes the two things task_start can launch.
type TaskKind string

const (
	KindAuto     TaskKind = "auto"
	KindWorker   TaskKind = "worker"
	KindWorkflow TaskKind = "workflow"
)

const workflowWorkerIDPrefix = "workflow:"

const defaultTaskTimeout = 10 * time.Minute

// TaskStartInput is the task_start request body.
type TaskStartInput struct {
	Kind           TaskKind
	Task           string
	WorkerID       string
	WorkflowID     string
	ContinueRunID  string
	Attachments    []domain.Attachment
	AutoSpawn      bool
	TimeoutMs      int64
	From           string
	ParentSession  string
	UI             domain.WorkflowUIPolicy
	Limits         *domain.WorkflowLimits
}

// TaskStartResult is what task_start returns immediately.
type TaskStartResult struct {
	TaskID string   `json:"taskId"`
	Kind   TaskKind `json:"kind"`
	Status string   `json:"status"`
	Next   string   `json:"next"`
}

// TaskStart resolves kind=auto, creates a running Job, and dispatches the
// underlying work in the background. It always returns immediately.
func (c *Context) TaskStart(ctx context.Context, input TaskStartInput) (*TaskStartResult, error) {
	kind := input.Kind
	if kind == "" || kind == KindAuto {
		switch {
		case input.WorkflowID != "" || input.ContinueRunID != "":
			kind = KindWorkflow
		case input.WorkerID != "":
			kind = KindWorker
		default:
			return nil, apperr.BadRequest("task_start requires workerId or workflowId/continueRunId")
		}
	}

	switch kind {
	case KindWorker:
		return c.startWorkerTask(ctx, input)
	case KindWorkflow:
		return c.startWorkflowTask(ctx, input)
	default:
		return nil, apperr.BadRequest(fmt.Sprintf("unknown task kind %q", kind))
	}
}

func (c *Context) startWorkerTask(ctx context.Context, input TaskStartInput) (*TaskStartResult, error) {
	if input.WorkerID == "" {
		return nil, apperr.BadRequest("workerId is required for kind=worker")
	}
	profile, err := c.resolveProfile(input.WorkerID)
	if err != nil {
		return nil, err
	}

	job := c.Jobs.Create(jobs.CreateInput{
		WorkerID:    input.WorkerID,
		Message:     input.Task,
		SessionID:   input.ParentSession,
		RequestedBy: input.From,
	})

	go c.runWorkerJob(job.ID, profile, input)

	return &TaskStartResult{TaskID: job.ID, Kind: KindWorker, Status: string(domain.JobRunning), Next: "task_await"}, nil
}

func (c *Context) runWorkerJob(jobID string, profile *domain.WorkerProfile, input TaskStartInput) {
	bgCtx := context.Background()

	instance, err := c.Pool.GetOrSpawn(bgCtx, profile, pool.SpawnOptions{SessionID: input.ParentSession}, c.Backend.Reuse, c.Backend.Spawn)
	if err != nil {
		c.Jobs.SetError(jobID, fmt.Sprintf("could not obtain worker %q: %v", profile.ID, err))
		return
	}

	if input.ParentSession != "" && !strings.HasPrefix(instance.ModelResolution, "reused") {
		c.Pool.TrackOwnership(input.ParentSession, instance.ID)
	}

	outcome, err := c.Backend.SendToWorker(bgCtx, instance, backend.PromptRequest{
		Message:     input.Task,
		Attachments: input.Attachments,
		TimeoutMs:   input.TimeoutMs,
		JobID:       jobID,
		From:        input.From,
	})
	if err != nil {
		c.Jobs.SetError(jobID, err.Error())
		return
	}
	if !outcome.Success {
		c.Jobs.SetError(jobID, outcome.Error)
		return
	}
	c.Jobs.SetResult(jobID, outcome.Response)
}

func (c *Context) startWorkflowTask(ctx context.Context, input TaskStartInput) (*TaskStartResult, error) {
	if input.WorkflowID == "" && input.ContinueRunID == "" {
		return nil, apperr.BadRequest("workflowId or continueRunId is required for kind=workflow")
	}

	label := input.WorkflowID
	if input.ContinueRunID != "" {
		label = input.ContinueRunID
	}
	job := c.Jobs.Create(jobs.CreateInput{
		WorkerID:    workflowWorkerIDPrefix + label,
		Message:     input.Task,
		SessionID:   input.ParentSession,
		RequestedBy: input.From,
	})

	go c.runWorkflowJob(job.ID, input)

	return &TaskStartResult{TaskID: job.ID, Kind: KindWorkflow, Status: string(domain.JobRunning), Next: "task_await"}, nil
}

func (c *Context) runWorkflowJob(jobID string, input TaskStartInput) {
	bgCtx := context.Background()

	limits := c.defaultLimits()
	if input.Limits != nil {
		limits = *input.Limits
	}

	var (
		run *domain.WorkflowRunState
		err error
	)
	if input.ContinueRunID != "" {
		run, err = c.Runner.ContinueWorkflow(bgCtx, input.ContinueRunID, &input.UI)
	} else {
		run, err = c.Runner.StartWorkflow(bgCtx, runner.RunInput{
			WorkflowID:      input.WorkflowID,
			Task:            input.Task,
			Attachments:     input.Attachments,
			AutoSpawn:       input.AutoSpawn,
			Limits:          limits,
			UI:              input.UI,
			ParentSessionID: input.ParentSession,
		})
	}
	if err != nil {
		c.Jobs.SetError(jobID, err.Error())
		return
	}

	if err := c.Jobs.AttachReport(jobID, &domain.Report{
		Summary: fmt.Sprintf("workflow run %s finished with status %s", run.RunID, run.Status),
	}); err != nil {
		c.logger.WithError(err).Warn("failed to attach workflow report to job", zap.String("job_id", jobID))
	}

	switch run.Status {
	case domain.RunSuccess:
		response := ""
		if run.LastStepResult != nil {
			response = run.LastStepResult.Response
		}
		c.Jobs.SetResult(jobID, response)
	case domain.RunPaused:
		c.Jobs.SetResult(jobID, fmt.Sprintf("paused: %s (runId=%s)", run.PauseReason, run.RunID))
	default:
		c.Jobs.SetError(jobID, run.PauseReason)
	}
}

func (c *Context) defaultLimits() domain.WorkflowLimits {
	wf := c.Config.Workflow
	return domain.WorkflowLimits{
		MaxSteps:         wf.MaxSteps,
		MaxTaskChars:     wf.MaxTaskChars,
		MaxCarryChars:    wf.MaxCarryChars,
		PerStepTimeoutMs: int64(wf.DefaultStepTimeout),
	}
}

// TaskAwait blocks on one or more job ids until they reach a terminal
// status or timeoutMs elapses.
func (c *Context) TaskAwait(ctx context.Context, taskIDs []string, timeoutMs int64) ([]*domain.Job, error) {
	timeout := defaultTaskTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	out := make([]*domain.Job, 0, len(taskIDs))
	for _, id := range taskIDs {
		job, err := c.Jobs.Await(ctx, id, timeout)
		if err != nil {
			return nil, fmt.Errorf("task_await %q: %w", id, err)
		}
		out = append(out, job)
	}
	return out, nil
}

// TaskPeek returns the current state of one or more jobs without waiting.
func (c *Context) TaskPeek(taskIDs []string) []*domain.Job {
	out := make([]*domain.Job, 0, len(taskIDs))
	for _, id := range taskIDs {
		out = append(out, c.Jobs.Peek(id))
	}
	return out
}

// TaskCancel marks one or more running jobs canceled. Best-effort: the
// underlying worker prompt is not interrupted.
func (c *Context) TaskCancel(taskIDs []string, reason string) string {
	for _, id := range taskIDs {
		c.Jobs.Cancel(id, reason)
	}
	if len(taskIDs) == 1 {
		return fmt.Sprintf("canceled task %s", taskIDs[0])
	}
	return fmt.Sprintf("canceled %d tasks", len(taskIDs))
}
