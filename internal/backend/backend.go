// Package backend implements the two Worker Backend variants dispatched by
// profile.kind: the server backend, which spawns an ocserve subprocess per
// worker, and the agent/subagent backend, which drives an existing OCServer
// session with no subprocess at all. Both are wired into the Worker Pool as
// a pool.SpawnFunc, and share a single sendToWorker implementation exposed
// both directly (for job-based sends with attachments) and adapted to the
// workflow runner's narrower SendFunc.
package backend

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/domain"
	"github.com/kandev/nodeforge/internal/events/bus"
	"github.com/kandev/nodeforge/internal/occlient"
	"github.com/kandev/nodeforge/internal/pool"
	"github.com/kandev/nodeforge/internal/registry"
)

// bridgeStreamTool is the tool id the worker-bridge plugin injects into an
// ocserve instance it runs inside; its presence confirms the plugin loaded.
const bridgeStreamTool = "stream_chunk"

// BridgeConfig is the subset of the worker-to-orchestrator bridge that gets
// handed to spawned server-backend workers through their environment.
type BridgeConfig struct {
	URL   string
	Token string
}

// Factory builds and drives worker backends against a shared OCServer
// client, device registry, event bus, and bridge configuration. Pool is
// wired in after construction, once the Worker Pool that owns this
// Factory's SpawnFunc exists.
type Factory struct {
	Client     occlient.Client
	Registry   *registry.Registry
	Bus        bus.EventBus
	Pool       *pool.Pool
	Bridge     BridgeConfig
	InstanceID string
	BaseDir    string
	Logger     *logger.Logger
}

// Spawn dispatches to the server or agent/subagent backend by profile.kind.
// It satisfies pool.SpawnFunc.
func (f *Factory) Spawn(ctx context.Context, profile *domain.WorkerProfile, opts pool.SpawnOptions) (*domain.WorkerInstance, error) {
	switch profile.Kind {
	case domain.KindServer:
		return f.spawnServer(ctx, profile, opts)
	case domain.KindAgent, domain.KindSubagent:
		return f.spawnAgent(ctx, profile, opts)
	default:
		return nil, fmt.Errorf("unknown worker kind %q for profile %q", profile.Kind, profile.ID)
	}
}

// upsertRegistry records or refreshes instance's Device Registry entry.
// Failures are logged, not fatal: the registry is a best-effort
// reattachment aid, not a source of truth for live state.
func (f *Factory) upsertRegistry(instance *domain.WorkerInstance) {
	if f.Registry == nil {
		return
	}
	entry := domain.DeviceRegistryEntry{
		OrchestratorInstanceID: f.InstanceID,
		HostPID:                os.Getpid(),
		WorkerID:               instance.ID,
		PID:                    instance.PID,
		URL:                    instance.ServerURL,
		Port:                   instance.Port,
		SessionID:              instance.SessionID,
		Status:                 instance.Status,
		LastError:              instance.Error,
		CreatedAt:              instance.StartedAt,
	}
	if err := f.Registry.UpsertWorker(entry); err != nil {
		f.Logger.WithError(err).Warn("failed to update device registry", zap.String("worker_id", instance.ID))
	}
}

// clientForURL builds an occlient.Client bound to a worker's own ocserve
// instance, parsed out of its registered URL.
func clientForURL(rawURL string, log *logger.Logger) (occlient.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse worker url %q: %w", rawURL, err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		return nil, fmt.Errorf("worker url %q has no numeric port: %w", rawURL, err)
	}
	return occlient.NewHTTPClient(parsed.Hostname(), port, log), nil
}

func (f *Factory) publishError(workerID, message string) {
	if f.Bus == nil {
		return
	}
	event := &bus.Event{
		Version:   1,
		ID:        uuid.NewString(),
		Type:      bus.EventError,
		Timestamp: time.Now().UnixMilli(),
		Data: map[string]interface{}{
			"workerId": workerID,
			"message":  message,
		},
	}
	if err := f.Bus.Publish(context.Background(), string(bus.EventError), event); err != nil {
		f.Logger.WithError(err).Warn("failed to publish worker error event")
	}
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
