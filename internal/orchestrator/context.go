// Package orchestrator wires components A through G into the shared
// runtime context the host application drives: worker pool, job registry,
// workflow runner, event bus, bridge, model resolution (inside the
// backend factory), and the worker profile/workflow catalogs. It exposes
// the public task API of spec.md §6.1 both as plain Go methods and as MCP
// tools for an in-process host agent.
package orchestrator

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/backend"
	"github.com/kandev/nodeforge/internal/common/apperr"
	"github.com/kandev/nodeforge/internal/common/config"
	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/common/tracing"
	"github.com/kandev/nodeforge/internal/domain"
	"github.com/kandev/nodeforge/internal/events/bridge"
	"github.com/kandev/nodeforge/internal/events/bus"
	"github.com/kandev/nodeforge/internal/jobs"
	"github.com/kandev/nodeforge/internal/occlient"
	"github.com/kandev/nodeforge/internal/pool"
	"github.com/kandev/nodeforge/internal/profiles"
	"github.com/kandev/nodeforge/internal/registry"
	"github.com/kandev/nodeforge/internal/workflow/catalog"
	"github.com/kandev/nodeforge/internal/workflow/engine"
	"github.com/kandev/nodeforge/internal/workflow/runner"
	"github.com/kandev/nodeforge/internal/workflow/store"
)

// Context is the orchestrator's shared runtime: a config snapshot, the
// worker profile and workflow catalogs, the project directory, and
// references to every A-G component. One Context is built per running
// orchestrator instance.
type Context struct {
	Config    *config.Config
	Directory string
	ProjectID string

	Bus       bus.EventBus
	Registry  *registry.Registry
	Pool      *pool.Pool
	Profiles  *profiles.Registry
	Workflows *catalog.Catalog
	Jobs      *jobs.Registry
	Runner    *runner.Runner
	Store     *store.Store
	Backend   *backend.Factory
	Bridge    *bridge.Server
	Tracer    *tracing.Provider

	logger *logger.Logger
}

// Options carries the collaborators a caller must supply to build a
// Context; everything else is constructed internally.
type Options struct {
	Config    *config.Config
	Directory string
	ProjectID string
	Client    occlient.Client
	Log       *logger.Logger
	Tracer    *tracing.Provider
}

// New wires A-G into a ready-to-use Context. The Bridge is started by the
// caller (main) once Context.Bridge is known, since starting it opens a
// network listener.
func New(ctx context.Context, opts Options) (*Context, error) {
	log := opts.Log
	if log == nil {
		log = logger.Default()
	}

	eventBus := bus.NewMemoryEventBus(log)
	workerPool := pool.New(eventBus, log)

	deviceRegistry := registry.New(opts.Config.Registry.Path, log)

	profileRegistry := profiles.NewRegistry(log)
	if err := profileRegistry.LoadDefaults(); err != nil {
		return nil, fmt.Errorf("load default worker profiles: %w", err)
	}

	workflowCatalog := catalog.New()

	jobRegistry := jobs.New(log)

	workflowStore, err := store.Open(opts.Config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open workflow store: %w", err)
	}

	instanceID := opts.Config.Registry.InstanceID
	if instanceID == "" {
		instanceID = fmt.Sprintf("nodeforge-%d", os.Getpid())
	}

	bridgeServer, err := bridge.NewServer(eventBus, workerPool, log, opts.Tracer)
	if err != nil {
		return nil, fmt.Errorf("build bridge server: %w", err)
	}
	if opts.Config.Bridge.Token != "" {
		bridgeServer.Token = opts.Config.Bridge.Token
	}

	backendFactory := &backend.Factory{
		Client:     opts.Client,
		Registry:   deviceRegistry,
		Bus:        eventBus,
		Pool:       workerPool,
		Bridge:     backend.BridgeConfig{URL: bridgeServer.URL, Token: bridgeServer.Token},
		InstanceID: instanceID,
		BaseDir:    opts.Directory,
		Logger:     log,
	}

	workflowEngine := engine.New()
	workflowRunner := runner.New(
		workerPool,
		workflowEngine,
		workflowStore,
		eventBus,
		workflowCatalog,
		backendFactory.Spawn,
		backendFactory.Reuse,
		backendFactory.AsWorkflowSendFunc(),
		nil,
		log,
	)

	return &Context{
		Config:    opts.Config,
		Directory: opts.Directory,
		ProjectID: opts.ProjectID,
		Bus:       eventBus,
		Registry:  deviceRegistry,
		Pool:      workerPool,
		Profiles:  profileRegistry,
		Workflows: workflowCatalog,
		Jobs:      jobRegistry,
		Runner:    workflowRunner,
		Store:     workflowStore,
		Backend:   backendFactory,
		Bridge:    bridgeServer,
		Tracer:    opts.Tracer,
		logger:    log.WithFields(zap.String("component", "orchestrator")),
	}, nil
}

// Shutdown stops every owned worker, closes the event bus, and shuts down
// the bridge. Individual failures are logged, never propagated: a
// component failing to stop cleanly must not block process exit.
func (c *Context) Shutdown(ctx context.Context) {
	c.Pool.StopAll(ctx)

	if err := c.Bridge.Stop(ctx); err != nil {
		c.logger.WithError(err).Warn("bridge did not shut down cleanly")
	}
	c.Bus.Close()
}

// resolveProfile looks up a worker profile by id, surfacing a ConfigError
// matching the spec's error-kind taxonomy for unknown profiles.
func (c *Context) resolveProfile(workerID string) (*domain.WorkerProfile, error) {
	p, ok := c.Profiles.Get(workerID)
	if !ok {
		return nil, apperr.ConfigError(fmt.Sprintf("unknown worker profile %q", workerID), nil)
	}
	return p, nil
}
