package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/loomware/agentkit/pkg/agent"
)

// Registry holds the set of tools available to one or more agents and
// resolves the enabled subset for a given invocation via a Predicate.
//
// Registration is transport-agnostic: in-process Go tools and external
// MCP toolsets (mcptoolset) both register through the same
// Register/RegisterToolset calls.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	toolsets []Toolset
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a single tool. Registering a tool with a name that already
// exists replaces the previous registration, matching the teacher's
// last-write-wins config reload behavior.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool: cannot register nil tool")
	}
	if t.Name() == "" {
		return fmt.Errorf("tool: cannot register tool with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	return nil
}

// RegisterToolset adds a dynamic toolset whose members are resolved lazily
// per invocation (used for MCP toolsets, which connect on first use).
func (r *Registry) RegisterToolset(ts Toolset) error {
	if ts == nil {
		return fmt.Errorf("tool: cannot register nil toolset")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolsets = append(r.toolsets, ts)
	return nil
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every statically registered tool, sorted by name for
// deterministic iteration (tool-definition ordering affects prompt
// stability across turns).
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Enabled returns the tools available for ctx, combining statically
// registered tools with every dynamic toolset's current resolution, then
// filtering the union through pred. A nil pred is treated as AllowAll.
func (r *Registry) Enabled(ctx agent.ReadonlyContext, pred Predicate) ([]Tool, error) {
	if pred == nil {
		pred = AllowAll()
	}

	r.mu.RLock()
	toolsets := make([]Toolset, len(r.toolsets))
	copy(toolsets, r.toolsets)
	r.mu.RUnlock()

	candidates := r.All()
	for _, ts := range toolsets {
		resolved, err := ts.Tools(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool: resolve toolset %q: %w", ts.Name(), err)
		}
		candidates = append(candidates, resolved...)
	}

	enabled := make([]Tool, 0, len(candidates))
	for _, t := range candidates {
		if pred(ctx, t) {
			enabled = append(enabled, t)
		}
	}
	return enabled, nil
}

// Definitions returns tool.Definition for every enabled tool, in the same
// order as Enabled — used directly as model.Request.Tools.
func (r *Registry) Definitions(ctx agent.ReadonlyContext, pred Predicate) ([]Definition, error) {
	enabled, err := r.Enabled(ctx, pred)
	if err != nil {
		return nil, err
	}
	defs := make([]Definition, len(enabled))
	for i, t := range enabled {
		defs[i] = ToDefinition(t)
	}
	return defs, nil
}
