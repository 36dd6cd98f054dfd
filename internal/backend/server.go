package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/backend/launcher"
	"github.com/kandev/nodeforge/internal/common/apperr"
	"github.com/kandev/nodeforge/internal/domain"
	"github.com/kandev/nodeforge/internal/model"
	"github.com/kandev/nodeforge/internal/occlient"
	"github.com/kandev/nodeforge/internal/pool"
)

// spawnServer implements the server worker backend: resolve a model,
// spawn an ocserve subprocess, confirm the bridge plugin loaded, create a
// session, and bootstrap it before marking the worker ready.
func (f *Factory) spawnServer(ctx context.Context, profile *domain.WorkerProfile, opts pool.SpawnOptions) (*domain.WorkerInstance, error) {
	if f.Client == nil {
		return nil, apperr.ConfigError("server backend requires an OCServer client to resolve models and probe tools", nil)
	}

	snapshot, err := f.Client.ConfigProviders(ctx, f.BaseDir)
	if err != nil {
		return nil, apperr.ConfigError("fetch OCServer provider snapshot", err)
	}
	resolution, err := model.Resolve(ctx, profile.Model, profile.SupportsVision, snapshot, f.Client, f.BaseDir)
	if err != nil {
		return nil, err
	}

	env, err := f.workerEnv(profile)
	if err != nil {
		return nil, apperr.ConfigError("compose worker environment", err)
	}

	l := launcher.New(launcher.Config{Port: profile.Port, ExtraEnv: env}, f.Logger)
	if err := l.Start(ctx); err != nil {
		return nil, apperr.SpawnError(fmt.Sprintf("spawn ocserve for worker %q", profile.ID), err)
	}

	workerClient := occlient.NewHTTPClient("127.0.0.1", l.Port(), f.Logger)

	toolIDs, toolErr := workerClient.ToolIDs(ctx, f.BaseDir)
	if toolErr != nil || !containsString(toolIDs, bridgeStreamTool) {
		_ = l.Stop(context.Background())
		return nil, apperr.SpawnError(
			fmt.Sprintf("worker %q did not expose the %q tool; the worker-bridge plugin likely failed to load", profile.ID, bridgeStreamTool),
			toolErr)
	}

	session, err := workerClient.SessionCreate(ctx, fmt.Sprintf("Worker: %s", profile.Name), f.BaseDir)
	if err != nil {
		_ = l.Stop(context.Background())
		return nil, apperr.SpawnError(fmt.Sprintf("create session for worker %q", profile.ID), err)
	}

	now := time.Now()
	instance := &domain.WorkerInstance{
		ID:              profile.ID,
		Profile:         profile,
		Status:          domain.StatusStarting,
		Port:            l.Port(),
		PID:             l.PID(),
		ServerURL:       fmt.Sprintf("http://127.0.0.1:%d", l.Port()),
		SessionID:       session.ID,
		StartedAt:       now,
		LastActivity:    now,
		ModelResolution: resolution.Reason,
		Kind:            domain.KindServer,
		Execution:       profile.Execution,
	}

	if _, err := workerClient.SessionPrompt(ctx, session.ID, bootstrapPrompt(profile, resolution), f.BaseDir); err != nil {
		_ = l.Stop(context.Background())
		return nil, apperr.SpawnError(fmt.Sprintf("bootstrap prompt for worker %q", profile.ID), err)
	}

	instance.Status = domain.StatusReady
	instance.Shutdown = func() error {
		return l.Stop(context.Background())
	}

	f.upsertRegistry(instance)
	f.Logger.Info("server worker ready",
		zap.String("worker_id", profile.ID),
		zap.Int("port", l.Port()),
		zap.String("model", resolution.ResolvedModel))

	return instance, nil
}

// workerEnv composes the environment merged into an ocserve subprocess, per
// the bridge/instance identity markers every server-backend worker needs.
func (f *Factory) workerEnv(profile *domain.WorkerProfile) (map[string]string, error) {
	configContent, err := f.configContentWithoutOrchestratorPlugin(context.Background())
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"OPENCODE_CONFIG_CONTENT":     configContent,
		"OPENCODE_ORCHESTRATOR_WORKER": "1",
		"OPENCODE_ORCH_BRIDGE_URL":    f.Bridge.URL,
		"OPENCODE_ORCH_BRIDGE_TOKEN":  f.Bridge.Token,
		"OPENCODE_ORCH_INSTANCE_ID":   f.InstanceID,
		"OPENCODE_ORCH_WORKER_ID":     profile.ID,
	}, nil
}

// configContentWithoutOrchestratorPlugin fetches the host OCServer's config
// defaults and re-serializes them for OPENCODE_CONFIG_CONTENT. The
// orchestrator's own plugin registration never appears here because
// ConfigDefaults only mirrors model/provider defaults, not the plugin list,
// which keeps the spawned worker from recursively loading it.
func (f *Factory) configContentWithoutOrchestratorPlugin(ctx context.Context) (string, error) {
	cfg := occlient.ConfigDefaults{}
	if f.Client != nil {
		if fetched, err := f.Client.ConfigGet(ctx, f.BaseDir); err == nil && fetched != nil {
			cfg = *fetched
		}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
