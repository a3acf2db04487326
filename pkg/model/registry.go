package model

import (
	"maps"
	"slices"

	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/dist"
	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/funcs"
)

// Registry resolves the function and distribution names used in model
// files and workspace calls.
type Registry struct {
	functions     map[string]dag.Function
	distributions map[string]dist.Distribution
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		functions:     make(map[string]dag.Function),
		distributions: make(map[string]dist.Distribution),
	}
}

// DefaultRegistry returns a registry holding every function of package
// funcs and every distribution of package dist.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, name := range funcs.Names() {
		f, _ := funcs.Lookup(name)
		r.functions[name] = f
	}
	for _, name := range dist.Names() {
		d, _ := dist.Lookup(name)
		r.distributions[name] = d
	}
	return r
}

// RegisterFunction adds f under f.Name, replacing any previous entry.
func (r *Registry) RegisterFunction(f dag.Function) error {
	if err := errors.ValidateNodeName(f.Name); err != nil {
		return err
	}
	r.functions[f.Name] = f
	return nil
}

// RegisterDistribution adds d under d.Name(), replacing any previous
// entry.
func (r *Registry) RegisterDistribution(d dist.Distribution) error {
	if err := errors.ValidateNodeName(d.Name()); err != nil {
		return err
	}
	r.distributions[d.Name()] = d
	return nil
}

// Function returns the function registered under name.
func (r *Registry) Function(name string) (dag.Function, error) {
	f, ok := r.functions[name]
	if !ok {
		return dag.Function{}, errors.New(errors.ErrCodeNotFound, "unknown function %q", name)
	}
	return f, nil
}

// Distribution returns the distribution registered under name.
func (r *Registry) Distribution(name string) (dist.Distribution, error) {
	d, ok := r.distributions[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "unknown distribution %q", name)
	}
	return d, nil
}

// Functions returns the registered function names, sorted.
func (r *Registry) Functions() []string {
	return slices.Sorted(maps.Keys(r.functions))
}

// Distributions returns the registered distribution names, sorted.
func (r *Registry) Distributions() []string {
	return slices.Sorted(maps.Keys(r.distributions))
}
