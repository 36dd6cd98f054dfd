// Package runner drives a Workflow's sequential step execution: spawning
// or reusing the worker for each step, composing the step prompt, gating
// the next action through the engine's policy table, and persisting
// paused runs so they survive a restart.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/common/apperr"
	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/domain"
	"github.com/kandev/nodeforge/internal/events/bus"
	"github.com/kandev/nodeforge/internal/pool"
	"github.com/kandev/nodeforge/internal/workflow/engine"
	"github.com/kandev/nodeforge/internal/workflow/store"
)

// SendFunc delivers a composed prompt to a worker instance and returns its
// response text plus an optional non-fatal warning. A non-nil error is
// treated as a step failure.
type SendFunc func(ctx context.Context, instance *domain.WorkerInstance, prompt string, timeout time.Duration) (response string, warning string, err error)

// WorkflowLookup resolves a workflow definition by id.
type WorkflowLookup interface {
	Get(id string) (*domain.Workflow, bool)
}

// SkillValidator checks that every required skill is installed and
// permitted. Returning a non-nil error aborts the run before step 1.
type SkillValidator func(ctx context.Context, requiredSkills []string) error

// RunInput starts a new workflow run.
type RunInput struct {
	WorkflowID      string
	Task            string
	Attachments     []domain.Attachment
	AutoSpawn       bool
	Limits          domain.WorkflowLimits
	UI              domain.WorkflowUIPolicy
	ParentSessionID string
}

// Runner executes workflow runs to completion or to their next pause
// point, persisting paused state between steps.
type Runner struct {
	pool      *pool.Pool
	engine    *engine.Engine
	store     *store.Store
	bus       bus.EventBus
	workflows WorkflowLookup
	spawn     pool.SpawnFunc
	reuse     pool.ReuseFunc
	send      SendFunc
	skills    SkillValidator
	logger    *logger.Logger
}

// New wires a Runner. skills may be nil to skip skill preflight (e.g. in
// tests or deployments with no skill system configured).
func New(p *pool.Pool, e *engine.Engine, s *store.Store, eventBus bus.EventBus, workflows WorkflowLookup, spawn pool.SpawnFunc, reuse pool.ReuseFunc, send SendFunc, skills SkillValidator, log *logger.Logger) *Runner {
	return &Runner{
		pool:      p,
		engine:    e,
		store:     s,
		bus:       eventBus,
		workflows: workflows,
		spawn:     spawn,
		reuse:     reuse,
		send:      send,
		skills:    skills,
		logger:    log.WithFields(zap.String("component", "workflow-runner")),
	}
}

// StartWorkflow validates the input, runs the skill preflight, and drives
// the run loop from step 0.
func (r *Runner) StartWorkflow(ctx context.Context, input RunInput) (*domain.WorkflowRunState, error) {
	workflow, ok := r.workflows.Get(input.WorkflowID)
	if !ok {
		return nil, apperr.NotFound("workflow", input.WorkflowID)
	}

	if err := engine.ValidateTask(input.Task, input.Limits); err != nil {
		return nil, err
	}
	if err := engine.ValidateStepCount(len(workflow.Steps), input.Limits); err != nil {
		return nil, err
	}
	if err := r.runSkillPreflight(ctx, workflow); err != nil {
		r.publishError(input.ParentSessionID, err)
		return nil, err
	}

	now := time.Now().UTC()
	run := &domain.WorkflowRunState{
		RunID:           uuid.NewString(),
		WorkflowID:      workflow.ID,
		WorkflowName:    workflow.Name,
		Task:            input.Task,
		Attachments:     input.Attachments,
		AutoSpawn:       input.AutoSpawn,
		Limits:          input.Limits,
		UI:              input.UI,
		Status:          domain.RunRunning,
		CurrentStepIndex: 0,
		StartedAt:       now,
		UpdatedAt:       now,
		ParentSessionID: input.ParentSessionID,
	}

	r.publishLifecycle(bus.EventWorkflowStarted, run, nil)

	return r.runLoop(ctx, workflow, run)
}

// ContinueWorkflow loads a paused run, optionally overrides its UI policy,
// and resumes execution from currentStepIndex.
func (r *Runner) ContinueWorkflow(ctx context.Context, runID string, uiOverride *domain.WorkflowUIPolicy) (*domain.WorkflowRunState, error) {
	run, err := r.store.Load(ctx, runID)
	if err != nil {
		return nil, apperr.Internal("load workflow run", err)
	}
	if run == nil {
		return nil, apperr.NotFound("workflow run", runID)
	}

	workflow, ok := r.workflows.Get(run.WorkflowID)
	if !ok {
		return nil, apperr.NotFound("workflow", run.WorkflowID)
	}

	if uiOverride != nil {
		run.UI = *uiOverride
	}
	run.Status = domain.RunRunning
	run.PauseReason = ""

	return r.runLoop(ctx, workflow, run)
}

func (r *Runner) runSkillPreflight(ctx context.Context, workflow *domain.Workflow) error {
	if r.skills == nil {
		return nil
	}
	required := append([]string{}, workflow.RequiredSkills...)
	for _, step := range workflow.Steps {
		required = append(required, step.RequiredSkills...)
	}
	if len(required) == 0 {
		return nil
	}
	if err := r.skills(ctx, required); err != nil {
		return apperr.Wrap(err, "workflow skill preflight failed")
	}
	return nil
}

// runLoop executes steps starting at run.CurrentStepIndex until the run
// pauses, terminates, or completes.
func (r *Runner) runLoop(ctx context.Context, workflow *domain.Workflow, run *domain.WorkflowRunState) (*domain.WorkflowRunState, error) {
	for run.CurrentStepIndex < len(workflow.Steps) {
		step := workflow.Steps[run.CurrentStepIndex]
		isLast := run.CurrentStepIndex == len(workflow.Steps)-1

		result := r.executeStep(ctx, step, run)
		run.Steps = append(run.Steps, *result)
		run.LastStepResult = result
		run.UpdatedAt = time.Now().UTC()

		r.publishLifecycle(bus.EventWorkflowStep, run, result)

		if result.Status == domain.StepSuccess && step.Carry {
			run.Carry = engine.ApplyCarryLimit(result.Response, run.Limits)
		}

		if isLast && result.Status == domain.StepSuccess {
			return r.finish(ctx, run, domain.RunSuccess, "")
		}

		hasWarning := result.Warning != ""
		action := r.engine.NextAction(run.UI, result.Status, hasWarning)

		switch action {
		case engine.ActionContinue:
			run.CurrentStepIndex++
			continue
		case engine.ActionPause:
			// The step succeeded; resuming should move on to the next step,
			// not replay this one.
			run.CurrentStepIndex++
			return r.pause(ctx, run, reasonForPause(run.UI))
		case engine.ActionRetryPause:
			// The step failed; resuming should retry the same step.
			return r.pause(ctx, run, reasonForPause(run.UI))
		case engine.ActionTerminate:
			return r.finish(ctx, run, domain.RunError, result.Error)
		default:
			return r.pause(ctx, run, "unrecognized gating action")
		}
	}

	return r.finish(ctx, run, domain.RunSuccess, "")
}

func reasonForPause(ui domain.WorkflowUIPolicy) string {
	if ui.Execution == domain.ExecutionStep {
		return "execution=step"
	}
	return fmt.Sprintf("intervene=%s", ui.Intervene)
}

func (r *Runner) executeStep(ctx context.Context, step domain.WorkflowStepDef, run *domain.WorkflowRunState) *domain.WorkflowStepResult {
	startedAt := time.Now().UTC()
	result := &domain.WorkflowStepResult{
		ID:        step.ID,
		Title:     step.Title,
		WorkerID:  step.WorkerID,
		StartedAt: startedAt,
	}

	profile := &domain.WorkerProfile{ID: step.WorkerID, Kind: domain.KindServer, Enabled: true}
	instance, err := r.pool.GetOrSpawn(ctx, profile, pool.SpawnOptions{SessionID: run.ParentSessionID}, r.reuse, r.spawn)
	if err != nil {
		return failStep(result, fmt.Sprintf("could not obtain worker %q: %v", step.WorkerID, err))
	}

	prompt := composePrompt(step, run.Task, run.Carry, run.Steps)

	timeout := time.Duration(run.Limits.PerStepTimeoutMs) * time.Millisecond
	if step.TimeoutMs > 0 && (timeout == 0 || time.Duration(step.TimeoutMs)*time.Millisecond < timeout) {
		timeout = time.Duration(step.TimeoutMs) * time.Millisecond
	}

	response, warning, err := r.send(ctx, instance, prompt, timeout)
	finishedAt := time.Now().UTC()
	result.FinishedAt = finishedAt
	result.DurationMs = finishedAt.Sub(startedAt).Milliseconds()

	if err != nil {
		result.Status = domain.StepError
		result.Error = err.Error()
		return result
	}

	result.Status = domain.StepSuccess
	result.Response = response
	result.Warning = warning
	return result
}

func failStep(result *domain.WorkflowStepResult, message string) *domain.WorkflowStepResult {
	result.Status = domain.StepError
	result.Error = message
	result.FinishedAt = time.Now().UTC()
	return result
}

// composePrompt substitutes {task} and {carry} into the step's prompt
// template and prefixes it with a "## <title>" section holding each
// preceding step's response.
func composePrompt(step domain.WorkflowStepDef, task, carry string, priorSteps []domain.WorkflowStepResult) string {
	var headings strings.Builder
	for _, prior := range priorSteps {
		fmt.Fprintf(&headings, "## %s\n%s\n\n", prior.Title, prior.Response)
	}

	replacer := strings.NewReplacer(
		"{task}", task,
		"{carry}", carry,
	)
	body := replacer.Replace(step.Prompt)
	if headings.Len() == 0 {
		return body
	}
	return headings.String() + body
}

func (r *Runner) pause(ctx context.Context, run *domain.WorkflowRunState, reason string) (*domain.WorkflowRunState, error) {
	run.Status = domain.RunPaused
	run.PauseReason = reason
	run.UpdatedAt = time.Now().UTC()

	if err := r.store.SavePaused(ctx, run); err != nil {
		r.logger.WithError(err).Warn("failed to persist paused workflow run", zap.String("run_id", run.RunID))
	}

	// The step event published in runLoop for this step already carries
	// run.LastStepResult; pausing is not a terminal transition and must
	// never emit EventWorkflowCompleted.
	return run, nil
}

func (r *Runner) finish(ctx context.Context, run *domain.WorkflowRunState, status domain.WorkflowRunStatus, errMessage string) (*domain.WorkflowRunState, error) {
	run.Status = status
	run.FinishedAt = time.Now().UTC()
	run.UpdatedAt = run.FinishedAt
	if errMessage != "" {
		run.PauseReason = errMessage
	}

	if err := r.store.Delete(ctx, run.RunID); err != nil {
		r.logger.WithError(err).Warn("failed to delete terminal workflow run from store", zap.String("run_id", run.RunID))
	}

	r.publishLifecycle(bus.EventWorkflowCompleted, run, run.LastStepResult)
	return run, nil
}

func (r *Runner) publishLifecycle(eventType bus.EventType, run *domain.WorkflowRunState, step *domain.WorkflowStepResult) {
	if r.bus == nil {
		return
	}

	event := &bus.Event{
		Version:   1,
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Data: map[string]interface{}{
			"runId":  run.RunID,
			"status": run.Status,
			"step":   step,
		},
	}
	if err := r.bus.Publish(context.Background(), string(eventType), event); err != nil {
		r.logger.WithError(err).Warn("failed to publish workflow lifecycle event")
	}
}

func (r *Runner) publishError(sessionID string, err error) {
	if r.bus == nil {
		return
	}
	event := &bus.Event{
		Version:   1,
		ID:        uuid.NewString(),
		Type:      bus.EventError,
		Timestamp: time.Now().UnixMilli(),
		Data: map[string]interface{}{
			"sessionId": sessionID,
			"message":   err.Error(),
		},
	}
	if pubErr := r.bus.Publish(context.Background(), string(bus.EventError), event); pubErr != nil {
		r.logger.WithError(pubErr).Warn("failed to publish workflow error event")
	}
}
