// Package registry holds the process-scoped catalog of workflow definitions.
// It is populated at boot, before the first execution, and read-only during
// dispatch.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mercato/mercato/pkg/models"
)

var (
	// ErrDuplicateWorkflowName is returned when registering a definition
	// under a name already taken.
	ErrDuplicateWorkflowName = errors.New("workflow name already registered")

	// ErrUnknownWorkflow is returned when resolving a name that was never
	// registered.
	ErrUnknownWorkflow = errors.New("workflow not registered")
)

type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	workflows map[string]*models.WorkflowDefinition
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		workflows: make(map[string]*models.WorkflowDefinition),
	}
}

// Register adds a compiled workflow definition to the catalog.
func (r *Registry) Register(def *models.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workflows[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateWorkflowName, def.Name)
	}

	r.workflows[def.Name] = def
	r.logger.Info("Registered workflow definition",
		"workflow_id", def.Name, "steps", len(def.Steps), "stages", len(def.Stages))

	return nil
}

// Workflow resolves a registered definition by name.
func (r *Registry) Workflow(name string) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}

	return def, nil
}

// WorkflowNames lists the registered workflow names.
func (r *Registry) WorkflowNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}

	return names
}

// Reset empties the catalog. Tests use it to avoid definitions leaking
// between runs.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.workflows = make(map[string]*models.WorkflowDefinition)
}

// HealthCheck reports whether the registry is usable.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return fmt.Sprintf("%d workflow(s) registered", len(r.workflows)), true
}
