package saga

import (
	"fmt"
)

// Flow incrementally assembles an ordered transaction definition. It
// exists for embedding applications: instead of registering step
// definitions one by one and repeating the name list at submission,
// a flow is declared once and yields both.
//
// Errors accumulate during assembly and surface on Register, so call
// chains stay unconditional.
type Flow struct {
	name  string
	defs  []StepDefinition
	names map[string]struct{}
	errs  []error
}

// Define starts a flow with the given name. The name identifies the
// flow in errors only; jobs reference the individual step names.
func Define(name string) *Flow {
	return &Flow{
		name:  name,
		names: make(map[string]struct{}),
	}
}

// Step appends a step to the flow. Order is execution order, and its
// reverse is compensation order. A nil compensate marks the step as
// having nothing to undo.
func (f *Flow) Step(name string, execute ExecuteFunc, compensate CompensateFunc) *Flow {
	def := StepDefinition{
		Name:       name,
		Execute:    execute,
		Compensate: compensate,
	}
	if err := def.Validate(); err != nil {
		f.errs = append(f.errs, fmt.Errorf("flow %q step %q: %w", f.name, name, err))
		return f
	}
	if _, exists := f.names[name]; exists {
		f.errs = append(f.errs, fmt.Errorf("flow %q: duplicate step name %q", f.name, name))
		return f
	}

	f.names[name] = struct{}{}
	f.defs = append(f.defs, def)
	return f
}

// Steps returns the step names in execution order, ready to hand to
// Coordinator.Execute.
func (f *Flow) Steps() []string {
	out := make([]string, len(f.defs))
	for i, def := range f.defs {
		out[i] = def.Name
	}
	return out
}

// Register binds every step of the flow into the registry and returns
// the ordered step names. The first assembly error aborts registration;
// nothing is registered partially.
func (f *Flow) Register(registry *Registry) ([]string, error) {
	if registry == nil {
		return nil, fmt.Errorf("flow %q: registry cannot be nil", f.name)
	}
	if len(f.errs) > 0 {
		return nil, f.errs[0]
	}
	if len(f.defs) == 0 {
		return nil, fmt.Errorf("flow %q: must define at least one step", f.name)
	}

	for _, def := range f.defs {
		if err := registry.Register(def); err != nil {
			return nil, fmt.Errorf("flow %q: register %q: %w", f.name, def.Name, err)
		}
	}
	return f.Steps(), nil
}
