// Package profiles loads and serves the WorkerProfile templates available
// to the orchestrator: the roles a host session can request a worker for.
package profiles

import (
	"embed"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/domain"
)

//go:embed defaults.yaml
var defaultsFS embed.FS

type profilesFile struct {
	Profiles []*domain.WorkerProfile `yaml:"profiles"`
}

// Registry holds the set of worker profiles available to getOrSpawn.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*domain.WorkerProfile
	logger   *logger.Logger
}

// NewRegistry returns an empty profile registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		profiles: make(map[string]*domain.WorkerProfile),
		logger:   log.WithFields(zap.String("component", "profile-registry")),
	}
}

// LoadDefaults loads the orchestrator's built-in worker roles (coder,
// architect, docs-researcher, vision-analyzer, memory-curator).
func (r *Registry) LoadDefaults() error {
	data, err := defaultsFS.ReadFile("defaults.yaml")
	if err != nil {
		return fmt.Errorf("read embedded profile defaults: %w", err)
	}
	return r.loadYAML(data, "defaults")
}

// LoadFile loads and merges additional profiles from a user-supplied YAML
// file, overriding any default with a matching ID.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile file %q: %w", path, err)
	}
	return r.loadYAML(data, path)
}

func (r *Registry) loadYAML(data []byte, source string) error {
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse profiles from %q: %w", source, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range file.Profiles {
		if err := ValidateProfile(p); err != nil {
			r.logger.Warn("skipping invalid worker profile",
				zap.String("id", p.ID), zap.String("source", source), zap.Error(err))
			continue
		}
		r.profiles[p.ID] = p
		r.logger.Info("loaded worker profile", zap.String("id", p.ID), zap.String("source", source))
	}
	return nil
}

// Get returns the profile registered under id.
func (r *Registry) Get(id string) (*domain.WorkerProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p, ok
}

// List returns every registered profile, enabled or not.
func (r *Registry) List() []*domain.WorkerProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.WorkerProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out
}

// ListEnabled returns only profiles with Enabled=true.
func (r *Registry) ListEnabled() []*domain.WorkerProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.WorkerProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Register adds or replaces a single profile at runtime.
func (r *Registry) Register(p *domain.WorkerProfile) error {
	if err := ValidateProfile(p); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
	return nil
}

// ValidateProfile checks the invariants a profile must satisfy before it
// can be registered: a non-empty id and name, and a known backend kind.
// Vision and model settings are not checked here.
func ValidateProfile(p *domain.WorkerProfile) error {
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("profile %q: name is required", p.ID)
	}
	switch p.Kind {
	case domain.KindServer, domain.KindAgent, domain.KindSubagent:
	default:
		return fmt.Errorf("profile %q: unknown kind %q", p.ID, p.Kind)
	}
	return nil
}
