package workflow

import (
	"fmt"
)

// Factory builds the workflow of one datastore manager
type Factory func(deps Deps) (ClusterWorkflow, error)

// Registry maps datastore managers to their workflow. It is built once and
// never modified.
type Registry struct {
	workflows map[string]ClusterWorkflow
}

// NewRegistry instantiates every factory with deps
func NewRegistry(deps Deps, factories map[string]Factory) (*Registry, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{workflows: make(map[string]ClusterWorkflow, len(factories))}
	for manager, factory := range factories {
		wf, err := factory(deps)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s workflow: %w", manager, err)
		}
		r.workflows[manager] = wf
	}
	return r, nil
}

// Lookup returns the workflow for a datastore manager
func (r *Registry) Lookup(manager string) (ClusterWorkflow, error) {
	wf, ok := r.workflows[manager]
	if !ok {
		return nil, fmt.Errorf("%s: %w", manager, ErrUnsupportedDatastore)
	}
	return wf, nil
}

// Managers returns the registered datastore managers
func (r *Registry) Managers() []string {
	managers := make([]string, 0, len(r.workflows))
	for m := range r.workflows {
		managers = append(managers, m)
	}
	return sortedUnique(managers)
}
