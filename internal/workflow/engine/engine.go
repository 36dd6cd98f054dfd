// Package engine holds the pure gating-policy table that decides what a
// workflow run does next after a step completes, and the carry/limit
// enforcement rules it must respect beforehand.
package engine

import (
	"github.com/kandev/nodeforge/internal/common/apperr"
	"github.com/kandev/nodeforge/internal/domain"
)

// NextAction is what the runner should do after a step outcome has been
// evaluated against the run's UI policy.
type NextAction string

const (
	ActionContinue    NextAction = "continue"
	ActionPause       NextAction = "pause"
	ActionRetryPause  NextAction = "retry_pause"
	ActionTerminate   NextAction = "terminate"
)

// Engine is a stateless evaluator over the spec's gating table. It holds
// no run state; callers pass in exactly what's needed per decision.
type Engine struct{}

// New returns a ready-to-use Engine. Stateless; kept as a type for
// consistency with other components and to leave room for future
// policy injection (e.g. a CallbackRegistry-style hook table).
func New() *Engine {
	return &Engine{}
}

// NextAction implements the §4.F gating table. stepOutcome is the result
// of the just-executed step; hasWarning reports whether the step
// succeeded with a warning attached.
func (e *Engine) NextAction(ui domain.WorkflowUIPolicy, stepOutcome domain.WorkflowStepStatus, hasWarning bool) NextAction {
	if ui.Execution == domain.ExecutionStep {
		if stepOutcome == domain.StepSuccess {
			return ActionPause
		}
		return ActionRetryPause
	}

	// ui.Execution == auto
	switch ui.Intervene {
	case domain.InterveneAlways:
		if stepOutcome == domain.StepSuccess {
			return ActionPause
		}
		return ActionRetryPause

	case domain.InterveneOnWarning:
		if stepOutcome == domain.StepError {
			return ActionRetryPause
		}
		if hasWarning {
			return ActionPause
		}
		return ActionContinue

	case domain.InterveneOnError:
		if stepOutcome == domain.StepSuccess {
			return ActionContinue
		}
		return ActionRetryPause

	case domain.InterveneNever:
		if stepOutcome == domain.StepError {
			return ActionTerminate
		}
		return ActionContinue

	default:
		// Unrecognized intervene policy: fail closed by pausing rather than
		// silently running unattended.
		return ActionPause
	}
}

// ValidateTask enforces the fail-fast task-length limit.
func ValidateTask(task string, limits domain.WorkflowLimits) error {
	if len(task) > limits.MaxTaskChars {
		return apperr.WorkflowLimitError("task exceeds maxTaskChars")
	}
	return nil
}

// ValidateStepCount enforces the fail-fast step-count limit.
func ValidateStepCount(stepCount int, limits domain.WorkflowLimits) error {
	if stepCount > limits.MaxSteps {
		return apperr.WorkflowLimitError("workflow has more steps than maxSteps")
	}
	return nil
}

const carryTruncationMarker = "\n...[truncated]"

// ApplyCarryLimit truncates carry to maxCarryChars, appending a marker
// when truncation occurs.
func ApplyCarryLimit(carry string, limits domain.WorkflowLimits) string {
	if len(carry) <= limits.MaxCarryChars {
		return carry
	}
	cut := limits.MaxCarryChars - len(carryTruncationMarker)
	if cut < 0 {
		cut = 0
	}
	return carry[:cut] + carryTruncationMarker
}
