// Package domain holds the data model shared across the orchestrator:
// worker profiles/instances, jobs, workflow run state, and device registry
// entries.
package domain

import "time"

// WorkerKind selects which Worker Backend variant runs a profile.
type WorkerKind string

const (
	KindServer   WorkerKind = "server"
	KindAgent    WorkerKind = "agent"
	KindSubagent WorkerKind = "subagent"
)

// ExecutionMode hints whether a worker's work should be visible in the
// foreground of the host UI or run silently.
type ExecutionMode string

const (
	ExecutionForeground ExecutionMode = "foreground"
	ExecutionBackground ExecutionMode = "background"
)

// WorkerStatus is the live state of a WorkerInstance.
type WorkerStatus string

const (
	StatusStarting WorkerStatus = "starting"
	StatusReady    WorkerStatus = "ready"
	StatusBusy     WorkerStatus = "busy"
	StatusError    WorkerStatus = "error"
	StatusStopped  WorkerStatus = "stopped"
)

// WorkerProfile is an immutable template describing a worker role.
type WorkerProfile struct {
	ID                string            `json:"id" yaml:"id"`
	Name              string            `json:"name" yaml:"name"`
	Purpose           string            `json:"purpose" yaml:"purpose"`
	WhenToUse         string            `json:"whenToUse" yaml:"whenToUse"`
	Model             string            `json:"model" yaml:"model"`
	Kind              WorkerKind        `json:"kind" yaml:"kind"`
	Execution         ExecutionMode     `json:"execution,omitempty" yaml:"execution,omitempty"`
	SupportsVision    bool              `json:"supportsVision" yaml:"supportsVision"`
	SupportsWeb       bool              `json:"supportsWeb" yaml:"supportsWeb"`
	Tools             map[string]bool   `json:"tools,omitempty" yaml:"tools,omitempty"`
	RequiredSkills    []string          `json:"requiredSkills,omitempty" yaml:"requiredSkills,omitempty"`
	Temperature       float64           `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Tags              []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	SystemPrompt      string            `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	InjectRepoContext bool              `json:"injectRepoContext,omitempty" yaml:"injectRepoContext,omitempty"`
	Port              int               `json:"port,omitempty" yaml:"port,omitempty"`
	Enabled           bool              `json:"enabled" yaml:"enabled"`
}

// LastResult captures the outcome of the most recent prompt a worker handled.
type LastResult struct {
	At         time.Time `json:"at"`
	JobID      string    `json:"jobId"`
	Response   string    `json:"response,omitempty"`
	Report     *Report   `json:"report,omitempty"`
	DurationMs int64     `json:"durationMs"`
}

// WorkerInstance is the live state of a spawned or reused worker.
type WorkerInstance struct {
	ID              string         `json:"id"`
	Profile         *WorkerProfile `json:"profile"`
	Status          WorkerStatus   `json:"status"`
	Port            int            `json:"port,omitempty"`
	PID             int            `json:"pid,omitempty"`
	ServerURL       string         `json:"serverUrl,omitempty"`
	SessionID       string         `json:"sessionId,omitempty"`
	ParentSessionID string         `json:"parentSessionId,omitempty"`
	StartedAt       time.Time      `json:"startedAt"`
	LastActivity    time.Time      `json:"lastActivity"`
	CurrentTask     string         `json:"currentTask,omitempty"`
	Warning         string         `json:"warning,omitempty"`
	Error           string         `json:"error,omitempty"`
	LastResult      *LastResult    `json:"lastResult,omitempty"`
	ModelResolution string         `json:"modelResolution,omitempty"`
	Kind            WorkerKind     `json:"kind"`
	Execution       ExecutionMode  `json:"execution,omitempty"`

	// Shutdown is invoked exactly once to release process/session resources.
	// Not serialized.
	Shutdown func() error `json:"-"`
}

// JobStatus is the state machine of a background Job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Report carries structured output attached to a job alongside free text.
type Report struct {
	Summary string   `json:"summary,omitempty"`
	Details string   `json:"details,omitempty"`
	Issues  []string `json:"issues,omitempty"`
	Notes   []string `json:"notes,omitempty"`
}

// Job is a unit of fire-and-forget background work dispatched to a worker
// or a workflow run.
type Job struct {
	ID          string    `json:"id"`
	WorkerID    string    `json:"workerId"`
	Message     string    `json:"message"`
	SessionID   string    `json:"sessionId,omitempty"`
	RequestedBy string    `json:"requestedBy,omitempty"`
	Status      JobStatus `json:"status"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
	DurationMs  int64     `json:"durationMs,omitempty"`
	ResponseText string   `json:"responseText,omitempty"`
	Error       string    `json:"error,omitempty"`
	Report      *Report   `json:"report,omitempty"`
}

// WorkflowStepDef describes a single step of a Workflow definition.
type WorkflowStepDef struct {
	ID             string   `json:"id" yaml:"id"`
	Title          string   `json:"title" yaml:"title"`
	WorkerID       string   `json:"workerId" yaml:"workerId"`
	Prompt         string   `json:"prompt" yaml:"prompt"`
	Carry          bool     `json:"carry" yaml:"carry"`
	TimeoutMs      int64    `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	RequiredSkills []string `json:"requiredSkills,omitempty" yaml:"requiredSkills,omitempty"`
}

// Workflow is an ordered list of steps.
type Workflow struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	RequiredSkills []string          `json:"requiredSkills,omitempty" yaml:"requiredSkills,omitempty"`
	Steps          []WorkflowStepDef `json:"steps" yaml:"steps"`
}

// WorkflowStepStatus is the outcome of one executed step.
type WorkflowStepStatus string

const (
	StepSuccess WorkflowStepStatus = "success"
	StepError   WorkflowStepStatus = "error"
)

// WorkflowStepResult records the outcome of one executed step.
type WorkflowStepResult struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	WorkerID   string             `json:"workerId"`
	Status     WorkflowStepStatus `json:"status"`
	Response   string             `json:"response,omitempty"`
	Warning    string             `json:"warning,omitempty"`
	Error      string             `json:"error,omitempty"`
	JobID      string             `json:"jobId,omitempty"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
	DurationMs int64              `json:"durationMs"`
}

// WorkflowExecution selects whether the UI steps through a run manually.
type WorkflowExecution string

const (
	ExecutionStep WorkflowExecution = "step"
	ExecutionAuto WorkflowExecution = "auto"
)

// WorkflowIntervene selects when an auto-executing run should pause for
// review.
type WorkflowIntervene string

const (
	InterveneAlways    WorkflowIntervene = "always"
	InterveneOnWarning WorkflowIntervene = "on-warning"
	InterveneOnError   WorkflowIntervene = "on-error"
	InterveneNever     WorkflowIntervene = "never"
)

// WorkflowUIPolicy bundles the two gating knobs a caller may set.
type WorkflowUIPolicy struct {
	Execution WorkflowExecution `json:"execution"`
	Intervene WorkflowIntervene `json:"intervene"`
}

// WorkflowLimits are the security limits enforced before and during a run.
type WorkflowLimits struct {
	MaxSteps           int   `json:"maxSteps"`
	MaxTaskChars       int   `json:"maxTaskChars"`
	MaxCarryChars      int   `json:"maxCarryChars"`
	PerStepTimeoutMs   int64 `json:"perStepTimeoutMs"`
}

// WorkflowRunStatus is the overall status of a run.
type WorkflowRunStatus string

const (
	RunRunning WorkflowRunStatus = "running"
	RunPaused  WorkflowRunStatus = "paused"
	RunSuccess WorkflowRunStatus = "success"
	RunError   WorkflowRunStatus = "error"
)

// WorkflowRunState is the full, serializable state of one workflow
// execution, persisted while paused.
type WorkflowRunState struct {
	RunID           string                `json:"runId"`
	WorkflowID      string                `json:"workflowId"`
	WorkflowName    string                `json:"workflowName"`
	Task            string                `json:"task"`
	Carry           string                `json:"carry,omitempty"`
	Attachments     []Attachment          `json:"attachments,omitempty"`
	AutoSpawn       bool                  `json:"autoSpawn"`
	Limits          WorkflowLimits        `json:"limits"`
	UI              WorkflowUIPolicy      `json:"ui"`
	Status          WorkflowRunStatus     `json:"status"`
	CurrentStepIndex int                  `json:"currentStepIndex"`
	Steps           []WorkflowStepResult  `json:"steps"`
	LastStepResult  *WorkflowStepResult   `json:"lastStepResult,omitempty"`
	StartedAt       time.Time             `json:"startedAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
	FinishedAt      time.Time             `json:"finishedAt,omitempty"`
	ParentSessionID string                `json:"parentSessionId,omitempty"`
	PauseReason     string                `json:"pauseReason,omitempty"`
}

// Attachment is a file reference (by path or inline base64) passed into a
// prompt.
type Attachment struct {
	Path     string `json:"path,omitempty"`
	Base64   string `json:"base64,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// DeviceEntryKind distinguishes the tagged variants of a DeviceRegistryEntry.
type DeviceEntryKind string

const (
	DeviceEntryWorker  DeviceEntryKind = "worker"
	DeviceEntrySession DeviceEntryKind = "session"
)

// DeviceRegistryEntry is one record in the on-disk, process-shared registry.
// Exactly one of the Worker* or Session* field groups is populated,
// discriminated by Kind.
type DeviceRegistryEntry struct {
	Kind DeviceEntryKind `json:"kind"`

	// Worker fields.
	OrchestratorInstanceID string       `json:"orchestratorInstanceId,omitempty"`
	HostPID                int          `json:"hostPid,omitempty"`
	WorkerID               string       `json:"workerId,omitempty"`
	PID                    int          `json:"pid,omitempty"`
	URL                    string       `json:"url,omitempty"`
	Port                   int          `json:"port,omitempty"`
	SessionID              string       `json:"sessionId,omitempty"`
	Status                 WorkerStatus `json:"status,omitempty"`
	LastError              string       `json:"lastError,omitempty"`

	// Session fields (HostPID and SessionID shared with worker variant).
	Directory string `json:"directory,omitempty"`
	Title     string `json:"title,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
