package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/loomware/agentkit/pkg/model"
)

// PlanGenerator produces a Plan from a user goal. It may be a trivial
// single-task builder or an LLM call with a specialized planning prompt —
// spec.md leaves the choice to the implementation.
type PlanGenerator interface {
	Generate(ctx context.Context, goal string) (*Plan, error)
}

// TrivialPlanGenerator builds a single-task plan wrapping the entire goal,
// used when no richer planner is configured.
type TrivialPlanGenerator struct{}

func (TrivialPlanGenerator) Generate(_ context.Context, goal string) (*Plan, error) {
	return NewPlan(goal, []*PlanTask{
		{ID: "task-1", Description: goal, MaxAttempts: 1},
	})
}

const defaultPlannerInstruction = `You are a planning assistant. Given a user goal, decompose it into a ` +
	`small ordered list of tasks. Respond with ONLY a JSON array, no prose, where each element has the ` +
	`shape {"id": string, "description": string, "depends_on": [string], "max_attempts": int}. ` +
	`Keep the plan as small as correctness allows; use depends_on to express sequencing.`

// planTaskDoc is the wire shape an LLMPlanGenerator expects back from the
// model.
type planTaskDoc struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on"`
	MaxAttempts int      `json:"max_attempts"`
}

// LLMPlanGenerator asks an LLM directly (not through the agentic loop — no
// tool calls are needed to decompose a goal) for a JSON task list and turns
// it into a validated Plan.
type LLMPlanGenerator struct {
	LLM               model.LLM
	SystemInstruction string
}

func (g *LLMPlanGenerator) Generate(ctx context.Context, goal string) (*Plan, error) {
	instr := g.SystemInstruction
	if instr == "" {
		instr = defaultPlannerInstruction
	}

	req := &model.Request{
		SystemInstruction: instr,
		Messages:          []*a2a.Message{a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: goal})},
	}

	var text string
	for resp, err := range g.LLM.GenerateContent(ctx, req, false) {
		if err != nil {
			return nil, fmt.Errorf("conductor: plan generation call: %w", err)
		}
		if resp != nil {
			text += resp.TextContent()
		}
	}

	raw := extractJSONArray(text)
	if raw == "" {
		return nil, fmt.Errorf("conductor: planner response contained no JSON array: %q", text)
	}
	var docs []planTaskDoc
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return nil, fmt.Errorf("conductor: parse planner response: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("conductor: planner produced an empty task list")
	}

	tasks := make([]*PlanTask, len(docs))
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = fmt.Sprintf("task-%d", i+1)
		}
		maxAttempts := d.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 1
		}
		tasks[i] = &PlanTask{
			ID:          id,
			Description: d.Description,
			DependsOn:   d.DependsOn,
			MaxAttempts: maxAttempts,
			Status:      TaskPending,
		}
	}
	return NewPlan(goal, tasks)
}

// extractJSONArray returns the substring of s spanning its first '[' to its
// matching last ']', tolerating models that wrap JSON in prose or code
// fences. Returns "" if no bracket pair is found.
func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}
