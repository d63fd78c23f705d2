package tool

import (
	"sort"
	"sync"

	"github.com/hupe1980/handoffmesh/core"
)

// Entry is a registered tool body.
type Entry struct {
	Description string
	Parameters  map[string]any
	Func        Func
}

// Registry maps tool ids to Go functions. Declarative configuration refers
// to tools by id instead of loading code dynamically; populate the registry
// at startup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// RegistryID is the id used for a function fn living in package pkg.
func RegistryID(pkg, fn string) string {
	if pkg == "" {
		return fn
	}
	return pkg + "." + fn
}

// Register adds entry under id. Registering an id twice or a nil function is
// a ConfigurationError.
func (r *Registry) Register(id string, entry Entry) error {
	if id == "" || entry.Func == nil {
		return core.NewConfigurationError("tool.registry", "tool id and function are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return core.NewConfigurationError("tool.registry", "tool %q already registered", id)
	}

	r.entries[id] = entry

	return nil
}

// MustRegister is Register that panics on error. Intended for init-time use.
func (r *Registry) MustRegister(id string, entry Entry) {
	if err := r.Register(id, entry); err != nil {
		panic(err)
	}
}

// Lookup returns the entry registered under id.
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]

	return e, ok
}

// IDs lists the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// NewTool builds a FunctionTool named name from the entry registered under
// id. An empty description falls back to the registered one. Unknown ids
// fail with a ConfigurationError.
func (r *Registry) NewTool(id, name, description string, optFns ...func(o *FunctionOptions)) (*FunctionTool, error) {
	entry, ok := r.Lookup(id)
	if !ok {
		return nil, core.NewConfigurationError("tool.registry", "unknown tool %q", id)
	}

	if description == "" {
		description = entry.Description
	}

	return NewFunctionTool(name, description, entry.Parameters, entry.Func, optFns...), nil
}
