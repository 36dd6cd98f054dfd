// Package registry implements the on-disk, process-shared device registry
// that lets orchestrator instances reattach to still-alive worker
// processes and avoid duplicate spawns across processes on the same host.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/domain"
)

const fileVersion = 1

type fileFormat struct {
	Version   int                          `json:"version"`
	UpdatedAt time.Time                    `json:"updatedAt"`
	Entries   []domain.DeviceRegistryEntry `json:"entries"`
}

// Registry is the device-wide registry of live workers and sessions.
type Registry struct {
	path   string
	mu     sync.Mutex
	logger *logger.Logger
}

// New returns a Registry backed by the file at path. The parent directory
// is created on the first write if missing.
func New(path string, log *logger.Logger) *Registry {
	return &Registry{
		path:   path,
		logger: log.WithFields(zap.String("component", "device-registry")),
	}
}

// ListEntries returns live entries, pruning dead ones first and rewriting
// the file if anything was pruned.
func (r *Registry) ListEntries() ([]domain.DeviceRegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.readLocked()
	if err != nil {
		return nil, err
	}

	live := make([]domain.DeviceRegistryEntry, 0, len(f.Entries))
	pruned := false
	for _, e := range f.Entries {
		alive := isProcessAlive(pidForEntry(e))
		if !alive {
			pruned = true
			continue
		}
		live = append(live, e)
	}

	if pruned {
		if err := r.writeLocked(live); err != nil {
			r.logger.WithError(err).Warn("failed to persist pruned registry")
		}
	}

	return live, nil
}

func pidForEntry(e domain.DeviceRegistryEntry) int {
	if e.Kind == domain.DeviceEntrySession {
		return e.HostPID
	}
	return e.PID
}

// UpsertWorker replaces the unique entry keyed by
// (orchestratorInstanceId, workerId, pid).
func (r *Registry) UpsertWorker(entry domain.DeviceRegistryEntry) error {
	entry.Kind = domain.DeviceEntryWorker
	entry.UpdatedAt = time.Now()
	return r.upsert(entry, func(e domain.DeviceRegistryEntry) bool {
		return e.Kind == domain.DeviceEntryWorker &&
			e.OrchestratorInstanceID == entry.OrchestratorInstanceID &&
			e.WorkerID == entry.WorkerID &&
			e.PID == entry.PID
	})
}

// UpsertSession replaces the unique entry keyed by (hostPid, sessionId).
func (r *Registry) UpsertSession(entry domain.DeviceRegistryEntry) error {
	entry.Kind = domain.DeviceEntrySession
	entry.UpdatedAt = time.Now()
	return r.upsert(entry, func(e domain.DeviceRegistryEntry) bool {
		return e.Kind == domain.DeviceEntrySession &&
			e.HostPID == entry.HostPID &&
			e.SessionID == entry.SessionID
	})
}

func (r *Registry) upsert(entry domain.DeviceRegistryEntry, matches func(domain.DeviceRegistryEntry) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.readLocked()
	if err != nil {
		return err
	}

	replaced := false
	for i, e := range f.Entries {
		if matches(e) {
			f.Entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		f.Entries = append(f.Entries, entry)
	}

	return r.writeLocked(f.Entries)
}

// RemoveByPID deletes any worker entry with the given pid.
func (r *Registry) RemoveByPID(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.readLocked()
	if err != nil {
		return err
	}

	out := f.Entries[:0]
	for _, e := range f.Entries {
		if e.Kind == domain.DeviceEntryWorker && e.PID == pid {
			continue
		}
		out = append(out, e)
	}

	return r.writeLocked(out)
}

// RemoveSession deletes the session entry for (sessionID, hostPID).
func (r *Registry) RemoveSession(sessionID string, hostPID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.readLocked()
	if err != nil {
		return err
	}

	out := f.Entries[:0]
	for _, e := range f.Entries {
		if e.Kind == domain.DeviceEntrySession && e.SessionID == sessionID && e.HostPID == hostPID {
			continue
		}
		out = append(out, e)
	}

	return r.writeLocked(out)
}

// readLocked loads the file, tolerating missing files and parse errors by
// returning an empty registry rather than an error (readers tolerate
// transient writer interleaving).
func (r *Registry) readLocked() (*fileFormat, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileFormat{Version: fileVersion}, nil
		}
		r.logger.WithError(err).Warn("failed to read device registry, treating as empty")
		return &fileFormat{Version: fileVersion}, nil
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		r.logger.WithError(err).Warn("failed to parse device registry, treating as empty")
		return &fileFormat{Version: fileVersion}, nil
	}

	return &f, nil
}

// writeLocked persists entries atomically: write to a tmp file in the same
// directory, then rename over the target. Rename is atomic on POSIX
// filesystems when source and destination share a filesystem.
func (r *Registry) writeLocked(entries []domain.DeviceRegistryEntry) error {
	f := fileFormat{
		Version:   fileVersion,
		UpdatedAt: time.Now(),
		Entries:   entries,
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".registry.%s.tmp", uuid.NewString()))
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write tmp registry: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename registry: %w", err)
	}

	return nil
}
