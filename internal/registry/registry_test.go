package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/domain"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device-registry.json")
	return New(path, logger.Default())
}

func TestUpsertWorkerThenList(t *testing.T) {
	r := newTestRegistry(t)

	entry := domain.DeviceRegistryEntry{
		OrchestratorInstanceID: "inst-1",
		WorkerID:               "coder",
		PID:                    os.Getpid(),
		URL:                    "http://127.0.0.1:4096",
		Status:                 domain.StatusReady,
	}

	require.NoError(t, r.UpsertWorker(entry))

	entries, err := r.ListEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "coder", entries[0].WorkerID)
	require.Equal(t, domain.DeviceEntryWorker, entries[0].Kind)
}

func TestUpsertWorkerReplacesExisting(t *testing.T) {
	r := newTestRegistry(t)

	base := domain.DeviceRegistryEntry{
		OrchestratorInstanceID: "inst-1",
		WorkerID:               "coder",
		PID:                    os.Getpid(),
		Status:                 domain.StatusStarting,
	}
	require.NoError(t, r.UpsertWorker(base))

	base.Status = domain.StatusReady
	base.URL = "http://127.0.0.1:5000"
	require.NoError(t, r.UpsertWorker(base))

	entries, err := r.ListEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.StatusReady, entries[0].Status)
}

func TestListEntriesPrunesDeadWorkers(t *testing.T) {
	r := newTestRegistry(t)

	dead := domain.DeviceRegistryEntry{
		OrchestratorInstanceID: "inst-1",
		WorkerID:               "dead-worker",
		PID:                    999999, // assumed not alive in test environment
		Status:                 domain.StatusReady,
	}
	require.NoError(t, r.UpsertWorker(dead))

	entries, err := r.ListEntries()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRemoveByPID(t *testing.T) {
	r := newTestRegistry(t)

	entry := domain.DeviceRegistryEntry{
		OrchestratorInstanceID: "inst-1",
		WorkerID:               "coder",
		PID:                    os.Getpid(),
		Status:                 domain.StatusReady,
	}
	require.NoError(t, r.UpsertWorker(entry))
	require.NoError(t, r.RemoveByPID(os.Getpid()))

	entries, err := r.ListEntries()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestListEntriesOnMissingFile(t *testing.T) {
	r := newTestRegistry(t)
	entries, err := r.ListEntries()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestListEntriesOnCorruptFile(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(r.path), 0o755))
	require.NoError(t, os.WriteFile(r.path, []byte("not json"), 0o644))

	entries, err := r.ListEntries()
	require.NoError(t, err)
	require.Empty(t, entries)
}
