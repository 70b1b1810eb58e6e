package saga

import (
	"sort"
	"sync"
)

// Registry maps step names to their executable definitions. It is an
// explicit value owned by the worker, not a package global: every process
// that may execute or compensate a job must populate its own registry with
// the step names that job references.
//
// Jobs persist step names only. A rolling deploy that removes a name
// referenced by a live job makes that job fail with StepNotFoundError,
// which quarantines as retryable so the job survives until the step is
// registered again.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]StepDefinition
}

// NewRegistry creates an empty step registry.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]StepDefinition),
	}
}

// Register binds a step definition to its name. Re-registering a name
// replaces the previous binding (last writer wins).
func (r *Registry) Register(def StepDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.steps[def.Name] = def
	r.mu.Unlock()
	return nil
}

// Get returns the definition bound to name.
func (r *Registry) Get(name string) (StepDefinition, bool) {
	r.mu.RLock()
	def, ok := r.steps[name]
	r.mu.RUnlock()
	return def, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	_, ok := r.steps[name]
	r.mu.RUnlock()
	return ok
}

// List returns all registered step names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// Unregister removes a step binding. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.steps, name)
	r.mu.Unlock()
}

// Clear removes every binding. Tests use it to reset shared registries
// between cases.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.steps = make(map[string]StepDefinition)
	r.mu.Unlock()
}
