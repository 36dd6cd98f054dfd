// Package catalog holds the workflow definitions a runner can execute:
// an in-memory, mutex-guarded map keyed by workflow id, populated by the
// host application rather than shipped with defaults (unlike the worker
// profile registry, the spec names no built-in workflows).
package catalog

import (
	"sync"

	"github.com/kandev/nodeforge/internal/common/apperr"
	"github.com/kandev/nodeforge/internal/domain"
)

// Catalog is a registry of Workflow definitions, satisfying
// runner.WorkflowLookup.
type Catalog struct {
	mu        sync.RWMutex
	workflows map[string]*domain.Workflow
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{workflows: make(map[string]*domain.Workflow)}
}

// Register adds or replaces a workflow definition.
func (c *Catalog) Register(w *domain.Workflow) error {
	if w.ID == "" {
		return apperr.BadRequest("workflow id is required")
	}
	if len(w.Steps) == 0 {
		return apperr.BadRequest("workflow must have at least one step")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflows[w.ID] = w
	return nil
}

// Get returns the workflow registered under id.
func (c *Catalog) Get(id string) (*domain.Workflow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workflows[id]
	return w, ok
}

// List returns every registered workflow definition.
func (c *Catalog) List() []*domain.Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Workflow, 0, len(c.workflows))
	for _, w := range c.workflows {
		out = append(out, w)
	}
	return out
}
