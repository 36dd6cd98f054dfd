package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/kandev/nodeforge/internal/common/apperr"
	"github.com/kandev/nodeforge/internal/domain"
	"github.com/kandev/nodeforge/internal/occlient"
	"github.com/kandev/nodeforge/internal/pool"
)

// spawnAgent implements the agent/subagent worker backend: no subprocess,
// just a session on the existing OCServer connection, forked from the
// caller's session for subagents or freshly created for top-level agents.
func (f *Factory) spawnAgent(ctx context.Context, profile *domain.WorkerProfile, opts pool.SpawnOptions) (*domain.WorkerInstance, error) {
	if f.Client == nil {
		return nil, apperr.ConfigError("agent backend requires an OCServer client", nil)
	}

	var (
		session *occlient.Session
		err     error
	)
	switch profile.Kind {
	case domain.KindSubagent:
		if opts.SessionID == "" {
			return nil, apperr.BadRequest(fmt.Sprintf("subagent worker %q requires a parent session id", profile.ID))
		}
		session, err = f.Client.SessionFork(ctx, opts.SessionID, f.BaseDir)
	case domain.KindAgent:
		session, err = f.Client.SessionCreate(ctx, fmt.Sprintf("Worker: %s", profile.Name), f.BaseDir)
	default:
		return nil, apperr.ConfigError(fmt.Sprintf("spawnAgent called for unsupported kind %q", profile.Kind), nil)
	}
	if err != nil {
		return nil, apperr.SpawnError(fmt.Sprintf("create session for worker %q", profile.ID), err)
	}

	now := time.Now()
	instance := &domain.WorkerInstance{
		ID:              profile.ID,
		Profile:         profile,
		Status:          domain.StatusStarting,
		ServerURL:       f.Client.BaseURL(),
		SessionID:       session.ID,
		ParentSessionID: opts.SessionID,
		StartedAt:       now,
		LastActivity:    now,
		ModelResolution: "inherited from host session",
		Kind:            profile.Kind,
		Execution:       profile.Execution,
	}

	if _, err := f.Client.SessionPrompt(ctx, session.ID, bootstrapPrompt(profile, nil), f.BaseDir); err != nil {
		return nil, apperr.SpawnError(fmt.Sprintf("bootstrap prompt for worker %q", profile.ID), err)
	}

	instance.Status = domain.StatusReady
	// No subprocess and no owned session lifecycle: the host OCServer
	// connection and the forked/created session outlive this worker.
	instance.Shutdown = func() error { return nil }

	f.upsertRegistry(instance)

	return instance, nil
}
