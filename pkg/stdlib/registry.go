// Package stdlib provides the builtin function registry.
package stdlib

import (
	"sort"

	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

// Fn represents a builtin function.
type Fn struct {
	Name    string
	Execute func(args *evaluator.Record) (evaluator.Value, error)
}

// Registry holds registered builtin functions.
type Registry struct {
	fns map[string]*Fn
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		fns: make(map[string]*Fn),
	}
}

// Register adds a function to the registry.
func (r *Registry) Register(fn Fn) {
	r.fns[fn.Name] = &fn
}

// Get retrieves a function by name.
func (r *Registry) Get(name string) *Fn {
	return r.fns[name]
}

// All returns all registered functions.
func (r *Registry) All() map[string]*Fn {
	return r.fns
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.fns))
	for name := range r.fns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Map converts the registry into the form expected by evaluator.ExecOptions.
func (r *Registry) Map() map[string]*evaluator.StdlibFn {
	out := make(map[string]*evaluator.StdlibFn, len(r.fns))
	for name, fn := range r.fns {
		out[name] = &evaluator.StdlibFn{Name: fn.Name, Execute: fn.Execute}
	}
	return out
}

// Default returns a registry holding every builtin.
func Default() *Registry {
	r := NewRegistry()
	RegisterDefaults(r)
	return r
}
