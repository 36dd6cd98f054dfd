package backend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/domain"
	"github.com/kandev/nodeforge/internal/occlient"
)

// Reuse implements the Worker Pool's kind=server reuse path: look for a
// still-alive server worker already registered in the Device Registry for
// this profile, probe it, and adopt its session instead of spawning a new
// process. Returning (nil, nil) tells the pool to fall back to Spawn.
func (f *Factory) Reuse(ctx context.Context, profile *domain.WorkerProfile) (*domain.WorkerInstance, error) {
	if profile.Kind != domain.KindServer || f.Registry == nil {
		return nil, nil
	}

	entries, err := f.Registry.ListEntries()
	if err != nil {
		return nil, nil
	}

	var candidates []domain.DeviceRegistryEntry
	for _, e := range entries {
		if e.Kind != domain.DeviceEntryWorker || e.WorkerID != profile.ID {
			continue
		}
		if e.Status != domain.StatusReady && e.Status != domain.StatusBusy {
			continue
		}
		if e.URL == "" {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})
	chosen := candidates[0]

	client, err := clientForURL(chosen.URL, f.Logger)
	if err != nil {
		f.Logger.WithError(err).Warn("skipping reuse candidate with unusable url", zap.String("worker_id", profile.ID))
		return nil, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	sessions, err := client.SessionList(probeCtx, f.BaseDir)
	if err != nil {
		f.Logger.WithError(err).Debug("reuse probe failed, falling back to spawn", zap.String("worker_id", profile.ID))
		return nil, nil
	}

	session := findOrCreateWorkerSession(ctx, client, sessions, chosen.SessionID, profile, f.BaseDir)
	if session == nil {
		return nil, nil
	}

	instance := &domain.WorkerInstance{
		ID:              profile.ID,
		Profile:         profile,
		Status:          chosen.Status,
		Port:            chosen.Port,
		PID:             chosen.PID,
		ServerURL:       chosen.URL,
		SessionID:       session.ID,
		StartedAt:       chosen.CreatedAt,
		LastActivity:    time.Now(),
		ModelResolution: "reused existing worker",
		Kind:            domain.KindServer,
		Execution:       profile.Execution,
	}
	// A reused worker is owned by whichever orchestrator instance spawned
	// it originally; this instance never shuts it down.
	instance.Shutdown = func() error { return nil }

	return instance, nil
}

// findOrCreateWorkerSession prefers the registry's recorded session id if
// it's still listed, falls back to a session titled "Worker: <name>", and
// otherwise creates a fresh one.
func findOrCreateWorkerSession(ctx context.Context, client occlient.Client, sessions []occlient.Session, preferredID string, profile *domain.WorkerProfile, directory string) *occlient.Session {
	for _, s := range sessions {
		if s.ID == preferredID {
			return &s
		}
	}

	title := fmt.Sprintf("Worker: %s", profile.Name)
	for _, s := range sessions {
		if s.Title == title {
			return &s
		}
	}

	created, err := client.SessionCreate(ctx, title, directory)
	if err != nil {
		return nil
	}
	return created
}
