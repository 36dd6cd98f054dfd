// Package pool implements the Worker Pool: the single source of truth for
// live workers, with a single spawn gate per workerId and status
// transitions that always fan out through the event bus.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/domain"
	"github.com/kandev/nodeforge/internal/events/bus"
)

// SpawnFunc constructs a fresh WorkerInstance for a profile. It is invoked
// at most once per concurrent wave of getOrSpawn calls for the same
// profile ID, courtesy of the singleflight gate.
type SpawnFunc func(ctx context.Context, profile *domain.WorkerProfile, opts SpawnOptions) (*domain.WorkerInstance, error)

// ReuseFunc attempts to reuse an already-running worker registered in the
// Device Registry. Returning (nil, nil) means no reusable worker was
// found and the caller should fall back to SpawnFunc.
type ReuseFunc func(ctx context.Context, profile *domain.WorkerProfile) (*domain.WorkerInstance, error)

// SpawnOptions carries call-specific hints into a spawn.
type SpawnOptions struct {
	SessionID string
}

// Pool is the in-memory worker pool.
type Pool struct {
	mu             sync.Mutex
	workers        map[string]*domain.WorkerInstance // keyed by profile.ID
	sessionWorkers map[string]map[string]bool         // sessionID -> set of workerIDs (profile.ID)

	spawnGroup singleflight.Group

	bus    bus.EventBus
	logger *logger.Logger
}

// New returns an empty Pool wired to the given event bus.
func New(eventBus bus.EventBus, log *logger.Logger) *Pool {
	return &Pool{
		workers:        make(map[string]*domain.WorkerInstance),
		sessionWorkers: make(map[string]map[string]bool),
		bus:            eventBus,
		logger:         log.WithFields(zap.String("component", "worker-pool")),
	}
}

// GetOrSpawn returns the live worker for profile.ID, reusing an existing
// in-memory instance, joining an in-flight spawn, or creating a new one.
// Concurrent callers for the same profile ID are serialized onto one
// underlying spawn/reuse attempt via singleflight, matching the "single
// spawn gate" requirement: all waiters observe the same WorkerInstance.
func (p *Pool) GetOrSpawn(ctx context.Context, profile *domain.WorkerProfile, opts SpawnOptions, reuse ReuseFunc, spawn SpawnFunc) (*domain.WorkerInstance, error) {
	p.mu.Lock()
	if existing, ok := p.workers[profile.ID]; ok {
		if existing.Status != domain.StatusError && existing.Status != domain.StatusStopped {
			p.mu.Unlock()
			return existing, nil
		}
	}
	p.mu.Unlock()

	result, err, _ := p.spawnGroup.Do(profile.ID, func() (interface{}, error) {
		if profile.Kind == domain.KindServer && reuse != nil {
			if instance, rerr := reuse(ctx, profile); rerr == nil && instance != nil {
				p.Register(instance)
				return instance, nil
			}
		}

		instance, serr := spawn(ctx, profile, opts)
		if serr != nil {
			return nil, serr
		}
		p.Register(instance)
		return instance, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*domain.WorkerInstance), nil
}

// Register adds a new worker instance to the pool and publishes one
// orchestra.worker.status event (reason "spawned"). No separate
// worker-local spawn event is emitted.
func (p *Pool) Register(instance *domain.WorkerInstance) {
	p.mu.Lock()
	p.workers[instance.Profile.ID] = instance
	p.mu.Unlock()

	p.publishStatus(instance, "", "spawned")
}

// Unregister removes a worker from the pool, clears ownership links, and
// publishes one orchestra.worker.status(status=stopped) event. No separate
// worker-local stop event is emitted.
func (p *Pool) Unregister(id string) {
	p.mu.Lock()
	instance, ok := p.workers[id]
	if ok {
		delete(p.workers, id)
	}
	for session, ids := range p.sessionWorkers {
		delete(ids, id)
		if len(ids) == 0 {
			delete(p.sessionWorkers, session)
		}
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	previous := instance.Status
	instance.Status = domain.StatusStopped
	p.publishStatus(instance, previous, "stopped")
}

// UpdateStatus is the single funnel through which every status transition
// passes: it holds the pool mutex while mutating, then publishes the global
// orchestra.worker.status event; no worker-local event is emitted. If the
// new status is error, orchestra.error is also published.
func (p *Pool) UpdateStatus(id string, status domain.WorkerStatus, workerErr string) {
	p.mu.Lock()
	instance, ok := p.workers[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	previous := instance.Status
	instance.Status = status
	if workerErr != "" {
		instance.Error = workerErr
	}
	p.mu.Unlock()

	p.publishStatus(instance, previous, "status_change")

	if status == domain.StatusError {
		p.publishError(instance, workerErr)
	}
}

// TrackOwnership records that sessionID owns workerID.
func (p *Pool) TrackOwnership(sessionID, workerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionWorkers[sessionID] == nil {
		p.sessionWorkers[sessionID] = make(map[string]bool)
	}
	p.sessionWorkers[sessionID][workerID] = true
}

// ClearSessionOwnership drops sessionID's ownership links without
// stopping the underlying workers.
func (p *Pool) ClearSessionOwnership(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessionWorkers, sessionID)
}

// OwnedWorkers returns the workerIDs owned by sessionID.
func (p *Pool) OwnedWorkers(sessionID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.sessionWorkers[sessionID]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

// Get returns the worker for id, if present.
func (p *Pool) Get(id string) (*domain.WorkerInstance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	instance, ok := p.workers[id]
	return instance, ok
}

// Touch refreshes a worker's lastActivity timestamp without a full status
// transition, used by the bridge when a stream chunk arrives for it.
func (p *Pool) Touch(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if instance, ok := p.workers[id]; ok {
		instance.LastActivity = time.Now()
	}
}

// List returns a snapshot of all registered workers.
func (p *Pool) List() []*domain.WorkerInstance {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*domain.WorkerInstance, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w)
	}
	return out
}

// StopAll shuts down every instance concurrently (best-effort) and clears
// pool state.
func (p *Pool) StopAll(ctx context.Context) {
	p.mu.Lock()
	instances := make([]*domain.WorkerInstance, 0, len(p.workers))
	for _, w := range p.workers {
		instances = append(instances, w)
	}
	p.workers = make(map[string]*domain.WorkerInstance)
	p.sessionWorkers = make(map[string]map[string]bool)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, instance := range instances {
		wg.Add(1)
		go func(inst *domain.WorkerInstance) {
			defer wg.Done()
			if inst.Shutdown == nil {
				return
			}
			if err := inst.Shutdown(); err != nil {
				p.logger.WithError(err).Warn("error shutting down worker", zap.String("worker_id", inst.ID))
			}
		}(instance)
	}
	wg.Wait()
}

func (p *Pool) publishStatus(instance *domain.WorkerInstance, previousStatus domain.WorkerStatus, reason string) {
	if p.bus == nil {
		return
	}

	payload := map[string]interface{}{
		"worker":         instance,
		"status":         instance.Status,
		"previousStatus": previousStatus,
		"reason":         reason,
	}

	event := &bus.Event{
		Version:   1,
		ID:        newEventID(),
		Type:      bus.EventWorkerStatus,
		Timestamp: time.Now().UnixMilli(),
		Data:      payload,
	}

	if err := p.bus.Publish(context.Background(), string(bus.EventWorkerStatus), event); err != nil {
		p.logger.WithError(err).Warn("failed to publish worker status event")
	}
}

func (p *Pool) publishError(instance *domain.WorkerInstance, message string) {
	if p.bus == nil {
		return
	}

	event := &bus.Event{
		Version:   1,
		ID:        newEventID(),
		Type:      bus.EventError,
		Timestamp: time.Now().UnixMilli(),
		Data: map[string]interface{}{
			"workerId": instance.ID,
			"message":  message,
		},
	}

	if err := p.bus.Publish(context.Background(), string(bus.EventError), event); err != nil {
		p.logger.WithError(err).Warn("failed to publish error event")
	}
}

func newEventID() string {
	return uuid.NewString()
}
