package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kandev/nodeforge/internal/common/config"
	"github.com/kandev/nodeforge/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Registry: config.RegistryConfig{
			Path:       filepath.Join(dir, "device-registry.json"),
			InstanceID: "test-instance",
		},
		Workflow: config.WorkflowConfig{
			MaxSteps:           10,
			MaxTaskChars:       5000,
			MaxCarryChars:      5000,
			DefaultStepTimeout: 30000,
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite3",
			Path:   filepath.Join(dir, "workflow-runs.db"),
		},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}

func newTestContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := New(context.Background(), Options{
		Config:    testConfig(t),
		Directory: t.TempDir(),
		ProjectID: "test-project",
		Client:    newFakeClient(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx.Shutdown(context.Background())
	})
	return ctx
}

func TestNewWiresEveryComponent(t *testing.T) {
	c := newTestContext(t)

	require.NotNil(t, c.Bus)
	require.NotNil(t, c.Registry)
	require.NotNil(t, c.Pool)
	require.NotNil(t, c.Profiles)
	require.NotNil(t, c.Workflows)
	require.NotNil(t, c.Jobs)
	require.NotNil(t, c.Runner)
	require.NotNil(t, c.Store)
	require.NotNil(t, c.Backend)
	require.NotNil(t, c.Bridge)
}

func TestNewLoadsDefaultWorkerProfiles(t *testing.T) {
	c := newTestContext(t)

	profiles := c.Profiles.List()
	require.NotEmpty(t, profiles)

	_, ok := c.Profiles.Get("coder")
	require.True(t, ok)
}

func TestResolveProfileUnknownIDReturnsConfigError(t *testing.T) {
	c := newTestContext(t)

	_, err := c.resolveProfile("does-not-exist")
	require.Error(t, err)
	require.Contains(t, err.Error(), "does-not-exist")
}

func TestResolveProfileKnownID(t *testing.T) {
	c := newTestContext(t)

	require.NoError(t, c.Profiles.Register(&domain.WorkerProfile{
		ID:   "test-agent",
		Name: "Test Agent",
		Kind: domain.KindAgent,
	}))

	p, err := c.resolveProfile("test-agent")
	require.NoError(t, err)
	require.Equal(t, "test-agent", p.ID)
}
