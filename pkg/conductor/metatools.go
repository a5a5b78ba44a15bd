package conductor

import (
	"fmt"

	"github.com/loomware/agentkit/pkg/agent"
	"github.com/loomware/agentkit/pkg/tool"
)

// MetaToolNames is the fixed set the conductor registers: tools whose
// effect is to change the agent's mode rather than perform user-domain
// work. They must never be visible to the execution-mode agent (testable
// property 8).
var MetaToolNames = []string{
	"start_planning",
	"modify_plan",
	"report_progress",
	"request_approval",
}

// ExecutionPredicate wraps base (the caller's own tool filter, or nil for
// AllowAll) with an additional exclusion of every name in MetaToolNames —
// the execution-mode agent sees the same tools as interactive mode, minus
// meta-planning tools.
func ExecutionPredicate(base tool.Predicate) tool.Predicate {
	if base == nil {
		base = tool.AllowAll()
	}
	excluded := make(map[string]bool, len(MetaToolNames))
	for _, n := range MetaToolNames {
		excluded[n] = true
	}
	return tool.Combine(base, func(_ agent.ReadonlyContext, t tool.Tool) bool {
		return !excluded[t.Name()]
	})
}

// metaTool adapts a conductor method into a tool.CallableTool. Meta-tools
// take no meaningful arguments beyond what's already in the utterance the
// conductor classifies directly, so Call here only records the model's
// explicit request; the actual mode transition happens in
// Conductor.HandleInput after classification, not inside the tool call
// itself — this keeps the state machine's transition logic in one place
// rather than split between the classifier and tool callbacks.
type metaTool struct {
	name        string
	description string
	onCall      func(args map[string]any) (map[string]any, error)
}

func (m *metaTool) Name() string           { return m.name }
func (m *metaTool) Description() string    { return m.description }
func (m *metaTool) IsLongRunning() bool    { return false }
func (m *metaTool) RequiresApproval() bool { return false }
func (m *metaTool) Schema() map[string]any { return nil }

func (m *metaTool) Call(_ tool.Context, args map[string]any) (map[string]any, error) {
	if m.onCall == nil {
		return map[string]any{"acknowledged": true}, nil
	}
	return m.onCall(args)
}

// registerMetaTools installs the fixed meta-tool set into registry, wired
// to c's own state so a model call against one of them is visible to the
// same turn's HandleInput (via consumeMetaCall) immediately afterward.
func (c *Conductor) registerMetaTools(registry *tool.Registry) error {
	tools := []*metaTool{
		{
			name:        "start_planning",
			description: "Request that the conductor switch to planning mode and produce a multi-step plan for the current goal.",
			onCall: func(args map[string]any) (map[string]any, error) {
				c.noteMetaCall("start_planning", args)
				return map[string]any{"acknowledged": true}, nil
			},
		},
		{
			name:        "modify_plan",
			description: "Propose a mutation (add_task, remove_task, skip_task, update_task) to the pending or executing plan.",
			onCall: func(args map[string]any) (map[string]any, error) {
				c.noteMetaCall("modify_plan", args)
				return map[string]any{"acknowledged": true}, nil
			},
		},
		{
			name:        "report_progress",
			description: "Report the current plan's task progress back to the user.",
			onCall: func(args map[string]any) (map[string]any, error) {
				c.noteMetaCall("report_progress", args)
				plan := c.Plan()
				if plan == nil {
					return map[string]any{"progress": "no active plan"}, nil
				}
				return map[string]any{"progress": plan.Progress()}, nil
			},
		},
		{
			name:        "request_approval",
			description: "Ask the user to approve the pending plan before execution begins.",
			onCall: func(args map[string]any) (map[string]any, error) {
				c.noteMetaCall("request_approval", args)
				return map[string]any{"acknowledged": true}, nil
			},
		},
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("conductor: register meta-tool %q: %w", t.name, err)
		}
	}
	return nil
}
