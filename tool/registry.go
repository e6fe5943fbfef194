package tool

import (
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hupe1980/agencymesh/core"
)

// Constructor builds a fresh tool instance.
type Constructor func() (Tool, error)

// Registry maps tool names to constructors. Tools are registered explicitly
// and referenced by name (or glob pattern) from agent manifests.
type Registry struct {
	mu    sync.RWMutex
	order []string
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: map[string]Constructor{}}
}

// Register adds a constructor under name. Empty names, nil constructors and
// duplicates are configuration errors.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" {
		return core.NewConfigurationError("tools", "tool name must not be empty")
	}
	if ctor == nil {
		return core.NewConfigurationError("tools."+name, "constructor must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ctors[name]; exists {
		return core.NewConfigurationError("tools."+name, "tool %q already registered", name)
	}
	r.ctors[name] = ctor
	r.order = append(r.order, name)
	return nil
}

// MustRegister is like Register but panics on error. Intended for package
// level registration of built-in tools.
func (r *Registry) MustRegister(name string, ctor Constructor) {
	if err := r.Register(name, ctor); err != nil {
		panic(err)
	}
}

// RegisterTool registers a ready-made tool instance under its own name.
func (r *Registry) RegisterTool(t Tool) error {
	return r.Register(t.Name(), func() (Tool, error) { return t, nil })
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Build constructs the named tools in the given order.
func (r *Registry) Build(names ...string) ([]Tool, error) {
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		t, err := r.build(name)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}

// Select constructs every registered tool whose name matches one of the glob
// patterns (doublestar syntax, e.g. "search_*" or "{fetch,parse}_*"). Tools
// are returned in registration order without duplicates. A pattern that is
// malformed or matches nothing is a configuration error.
func (r *Registry) Select(patterns ...string) ([]Tool, error) {
	names := r.Names()
	selected := make(map[string]bool, len(names))

	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, core.NewConfigurationError("tools", "invalid tool pattern %q", pattern)
		}
		matched := false
		for _, name := range names {
			ok, err := doublestar.Match(pattern, name)
			if err != nil {
				return nil, &core.ConfigurationError{Field: "tools", Message: fmt.Sprintf("match pattern %q", pattern), Err: err}
			}
			if ok {
				selected[name] = true
				matched = true
			}
		}
		if !matched {
			return nil, core.NewConfigurationError("tools", "pattern %q matches no registered tool", pattern)
		}
	}

	ordered := make([]string, 0, len(selected))
	for _, name := range names {
		if selected[name] {
			ordered = append(ordered, name)
		}
	}
	return r.Build(ordered...)
}

func (r *Registry) build(name string) (Tool, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()

	if !ok {
		return nil, core.NewConfigurationError("tools."+name, "unknown tool %q", name)
	}

	t, err := ctor()
	if err != nil {
		return nil, &core.ConfigurationError{Field: "tools." + name, Message: "construct tool", Err: err}
	}
	if t == nil {
		return nil, core.NewConfigurationError("tools."+name, "constructor returned nil tool")
	}
	if t.Name() != name {
		return nil, core.NewConfigurationError("tools."+name, "constructor returned tool named %q", t.Name())
	}
	return t, nil
}
