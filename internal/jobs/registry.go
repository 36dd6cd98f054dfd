// Package jobs implements the Job Registry: UUID-keyed background jobs
// with await/peek/cancel and bounded retention.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/common/apperr"
	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/domain"
)

const (
	maxRetained     = 200
	retentionWindow = 24 * time.Hour
)

// CreateInput describes a new job.
type CreateInput struct {
	WorkerID    string
	Message     string
	SessionID   string
	RequestedBy string
}

// Registry is the in-memory, mutex-guarded job store.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	waiters map[string][]chan struct{}
	logger  *logger.Logger
}

// New returns an empty job Registry.
func New(log *logger.Logger) *Registry {
	return &Registry{
		jobs:    make(map[string]*domain.Job),
		waiters: make(map[string][]chan struct{}),
		logger:  log.WithFields(zap.String("component", "job-registry")),
	}
}

// Create inserts a new running job with a random UUID id.
func (r *Registry) Create(input CreateInput) *domain.Job {
	job := &domain.Job{
		ID:          uuid.NewString(),
		WorkerID:    input.WorkerID,
		Message:     input.Message,
		SessionID:   input.SessionID,
		RequestedBy: input.RequestedBy,
		Status:      domain.JobRunning,
		StartedAt:   time.Now(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	return job
}

// SetResult marks a running job succeeded. No-op if the job is already
// terminal or missing.
func (r *Registry) SetResult(id, responseText string) {
	r.finish(id, func(job *domain.Job) {
		job.Status = domain.JobSucceeded
		job.ResponseText = responseText
	})
}

// SetError marks a running job failed.
func (r *Registry) SetError(id, errMessage string) {
	r.finish(id, func(job *domain.Job) {
		job.Status = domain.JobFailed
		job.Error = errMessage
	})
}

// Cancel marks a running job canceled.
func (r *Registry) Cancel(id, reason string) {
	r.finish(id, func(job *domain.Job) {
		job.Status = domain.JobCanceled
		if reason != "" {
			job.Error = reason
		}
	})
}

func (r *Registry) finish(id string, apply func(job *domain.Job)) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobRunning {
		r.mu.Unlock()
		return
	}

	apply(job)
	job.FinishedAt = time.Now()
	job.DurationMs = job.FinishedAt.Sub(job.StartedAt).Milliseconds()

	waiters := r.waiters[id]
	delete(r.waiters, id)
	r.pruneLocked()
	r.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Await blocks until the job reaches a terminal state or timeoutMs
// elapses. Jobs with an active waiter are never pruned while it waits.
func (r *Registry) Await(ctx context.Context, id string, timeout time.Duration) (*domain.Job, error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return nil, apperr.NotFound("job", id)
	}
	if job.Status != domain.JobRunning {
		r.mu.Unlock()
		return job, nil
	}

	waitCh := make(chan struct{})
	r.waiters[id] = append(r.waiters[id], waitCh)
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-waitCh:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.jobs[id], nil
	case <-timer.C:
		return nil, fmt.Errorf("timed out after %dms", timeout.Milliseconds())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peek returns the job immediately without waiting, or a synthetic
// {id, status: unknown} marker if it does not exist.
func (r *Registry) Peek(id string) *domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return &domain.Job{ID: id, Status: "unknown"}
	}
	return job
}

// ListOptions filters List.
type ListOptions struct {
	WorkerID string
	Limit    int
}

// List returns jobs newest-first, capped at 50 by default.
func (r *Registry) List(opts ListOptions) []*domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	out := make([]*domain.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if opts.WorkerID != "" && j.WorkerID != opts.WorkerID {
			continue
		}
		out = append(out, j)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AttachReport merges report fields into a job, even if it is already
// terminal.
func (r *Registry) AttachReport(id string, report *domain.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return apperr.NotFound("job", id)
	}

	if job.Report == nil {
		job.Report = report
		return nil
	}

	if report.Summary != "" {
		job.Report.Summary = report.Summary
	}
	if report.Details != "" {
		job.Report.Details = report.Details
	}
	job.Report.Issues = append(job.Report.Issues, report.Issues...)
	job.Report.Notes = append(job.Report.Notes, report.Notes...)
	return nil
}

// pruneLocked drops terminal jobs older than the retention window with no
// waiters, then trims to maxRetained oldest-first. Caller holds r.mu.
func (r *Registry) pruneLocked() {
	now := time.Now()
	for id, job := range r.jobs {
		if job.Status == domain.JobRunning {
			continue
		}
		if len(r.waiters[id]) > 0 {
			continue
		}
		if now.Sub(job.FinishedAt) > retentionWindow {
			delete(r.jobs, id)
		}
	}

	if len(r.jobs) <= maxRetained {
		return
	}

	type terminalJob struct {
		id         string
		finishedAt time.Time
	}
	var terminal []terminalJob
	for id, job := range r.jobs {
		if job.Status == domain.JobRunning || len(r.waiters[id]) > 0 {
			continue
		}
		terminal = append(terminal, terminalJob{id: id, finishedAt: job.FinishedAt})
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].finishedAt.Before(terminal[j].finishedAt)
	})

	excess := len(r.jobs) - maxRetained
	for i := 0; i < excess && i < len(terminal); i++ {
		delete(r.jobs, terminal[i].id)
	}
}
