package conductor_test

import (
	"context"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomware/agentkit/pkg/agent"
	"github.com/loomware/agentkit/pkg/conductor"
	"github.com/loomware/agentkit/pkg/contextmgr"
	"github.com/loomware/agentkit/pkg/model"
	"github.com/loomware/agentkit/pkg/tool"
)

type fakeEstimator struct{}

func (fakeEstimator) EstimateText(s string) int {
	n := 0
	for range s {
		n++
	}
	return n/4 + 1
}
func (fakeEstimator) EstimateStructured(any) int { return 1 }

type readonlyCtx struct{ context.Context }

func (readonlyCtx) InvocationID() string              { return "inv-1" }
func (readonlyCtx) AgentName() string                 { return "test-agent" }
func (readonlyCtx) UserContent() *agent.Content        { return nil }
func (readonlyCtx) ReadonlyState() agent.ReadonlyState { return nil }
func (readonlyCtx) UserID() string                     { return "user-1" }
func (readonlyCtx) AppName() string                    { return "test-app" }
func (readonlyCtx) SessionID() string                  { return "session-1" }
func (readonlyCtx) Branch() string                     { return "" }

type fakeToolContext struct {
	context.Context
	callID string
}

func (f *fakeToolContext) FunctionCallID() string { return f.callID }
func (f *fakeToolContext) Actions() *agent.EventActions {
	return &agent.EventActions{StateDelta: make(map[string]any)}
}
func (f *fakeToolContext) SearchMemory(ctx context.Context, query string) (*agent.MemorySearchResponse, error) {
	return nil, nil
}
func (f *fakeToolContext) Artifacts() agent.Artifacts         { return nil }
func (f *fakeToolContext) State() agent.State                 { return nil }
func (f *fakeToolContext) InvocationID() string                { return "inv-1" }
func (f *fakeToolContext) AgentName() string                   { return "test-agent" }
func (f *fakeToolContext) UserContent() *agent.Content          { return nil }
func (f *fakeToolContext) ReadonlyState() agent.ReadonlyState   { return nil }
func (f *fakeToolContext) UserID() string                       { return "user-1" }
func (f *fakeToolContext) AppName() string                      { return "test-app" }
func (f *fakeToolContext) SessionID() string                    { return "session-1" }
func (f *fakeToolContext) Branch() string                       { return "" }

// queuedLLM replays one response list per GenerateContent call, in order.
type queuedLLM struct {
	responses [][]*model.Response
	call      int
}

func (q *queuedLLM) Name() string             { return "queued" }
func (q *queuedLLM) Provider() model.Provider { return model.ProviderOpenAI }
func (q *queuedLLM) Close() error             { return nil }

func (q *queuedLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		idx := q.call
		q.call++
		if idx >= len(q.responses) {
			yield(nil, fmt.Errorf("queuedLLM: no more responses"))
			return
		}
		for _, resp := range q.responses[idx] {
			if !yield(resp, nil) {
				return
			}
		}
	}
}

func textResponse(text string) *model.Response {
	return &model.Response{
		Content:      &model.Content{Parts: []a2a.Part{a2a.TextPart{Text: text}}, Role: a2a.MessageRoleAgent},
		FinishReason: model.FinishReasonStop,
		Usage:        &model.Usage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
	}
}

func newTestConfig(t *testing.T, llm model.LLM) conductor.Config {
	t.Helper()
	mgr, err := contextmgr.NewManager(contextmgr.ManagerConfig{
		SystemPrompt:    "you are a test agent",
		Estimator:       fakeEstimator{},
		MaxTokens:       4000,
		ResponseReserve: 200,
	})
	require.NoError(t, err)

	registry := tool.NewRegistry()
	executor := tool.NewExecutor(registry, tool.ExecutorConfig{DefaultTimeout: time.Second})

	return conductor.Config{
		Manager:     mgr,
		Registry:    registry,
		Executor:    executor,
		LLM:         llm,
		ReadonlyCtx: readonlyCtx{Context: context.Background()},
		ToolContext: func(callID string) tool.Context {
			return &fakeToolContext{Context: context.Background(), callID: callID}
		},
		MaxIterations: 5,
	}
}

// twoTaskPlanner produces a fixed two-task plan with a dependency edge,
// used to drive execution-order tests deterministically.
type twoTaskPlanner struct{}

func (twoTaskPlanner) Generate(_ context.Context, goal string) (*conductor.Plan, error) {
	return conductor.NewPlan(goal, []*conductor.PlanTask{
		{ID: "task-1", Description: "first step", MaxAttempts: 1},
		{ID: "task-2", Description: "second step", DependsOn: []string{"task-1"}, MaxAttempts: 1},
	})
}

func TestHandleInputSimpleIntentStaysInteractive(t *testing.T) {
	llm := &queuedLLM{responses: [][]*model.Response{{textResponse("4")}}}
	cfg := newTestConfig(t, llm)
	c, err := conductor.New(cfg)
	require.NoError(t, err)

	resp, err := c.HandleInput(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "what is 2+2"}))
	require.NoError(t, err)
	assert.Equal(t, conductor.ModeInteractive, resp.Mode)
	assert.Equal(t, "4", resp.Text)
	assert.Equal(t, conductor.ModeInteractive, c.Mode())
}

func TestHandleInputComplexGoesToPlanningThenExecutes(t *testing.T) {
	llm := &queuedLLM{responses: [][]*model.Response{
		{textResponse("first step done")},
		{textResponse("second step done")},
	}}
	cfg := newTestConfig(t, llm)
	cfg.Planner = twoTaskPlanner{}
	c, err := conductor.New(cfg)
	require.NoError(t, err)

	resp, err := c.HandleInput(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "search for X and then email results to Y"}))
	require.NoError(t, err)
	assert.Equal(t, conductor.ModePlanning, resp.Mode)
	require.NotNil(t, resp.Plan)
	assert.Len(t, resp.Plan.Tasks, 2)
	assert.True(t, resp.NeedsUserAction)

	resp, err = c.HandleInput(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "yes, go ahead"}))
	require.NoError(t, err)
	assert.Equal(t, conductor.ModeInteractive, resp.Mode)
	assert.Equal(t, conductor.PlanCompleted, resp.PlanStatus)
	assert.Equal(t, conductor.TaskCompleted, resp.Plan.Tasks[0].Status)
	assert.Equal(t, conductor.TaskCompleted, resp.Plan.Tasks[1].Status)
	assert.Equal(t, "first step done", resp.Plan.Tasks[0].Output)
}

func TestHandleInputRejectionDuringPlanningRefines(t *testing.T) {
	llm := &queuedLLM{}
	cfg := newTestConfig(t, llm)
	cfg.Planner = twoTaskPlanner{}
	c, err := conductor.New(cfg)
	require.NoError(t, err)

	_, err = c.HandleInput(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "search for X and then email results to Y"}))
	require.NoError(t, err)
	require.Equal(t, conductor.ModePlanning, c.Mode())

	resp, err := c.HandleInput(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "no, that's wrong"}))
	require.NoError(t, err)
	assert.Equal(t, conductor.ModePlanning, resp.Mode)
	assert.Equal(t, conductor.ModePlanning, c.Mode())
}

func TestApprovedPlanRunsAllTasksWithProgress(t *testing.T) {
	// runExecution is synchronous, so approving the plan runs both tasks
	// to completion inside HandleInput; the response carries the final
	// task progress. No interrupt or Pause happens in this test.
	llm := &queuedLLM{responses: [][]*model.Response{
		{textResponse("first step done")},
		{textResponse("second step done")},
	}}
	cfg := newTestConfig(t, llm)
	cfg.Planner = twoTaskPlanner{}
	c, err := conductor.New(cfg)
	require.NoError(t, err)

	_, err = c.HandleInput(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "search for X and then email results to Y"}))
	require.NoError(t, err)

	resp, err := c.HandleInput(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "yes, go ahead"}))
	require.NoError(t, err)
	assert.Equal(t, conductor.ModeInteractive, resp.Mode)
	assert.NotNil(t, resp.TaskProgress)
	assert.Equal(t, 2, resp.TaskProgress.Completed)
}

func TestCancelFromPlanningReturnsToInteractive(t *testing.T) {
	llm := &queuedLLM{}
	cfg := newTestConfig(t, llm)
	cfg.Planner = twoTaskPlanner{}
	c, err := conductor.New(cfg)
	require.NoError(t, err)

	_, err = c.HandleInput(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "search for X and then email results to Y"}))
	require.NoError(t, err)
	require.Equal(t, conductor.ModePlanning, c.Mode())

	resp := c.Cancel()
	assert.Equal(t, conductor.ModeInteractive, resp.Mode)
	assert.Equal(t, conductor.ModeInteractive, c.Mode())
	assert.Equal(t, conductor.PlanCancelled, resp.Plan.Status)
}

func TestMetaToolsHiddenFromExecutionAgent(t *testing.T) {
	llm := &queuedLLM{}
	cfg := newTestConfig(t, llm)
	c, err := conductor.New(cfg)
	require.NoError(t, err)

	interactive, err := cfg.Registry.Definitions(cfg.ReadonlyCtx, cfg.BasePredicate)
	require.NoError(t, err)
	names := make(map[string]bool, len(interactive))
	for _, d := range interactive {
		names[d.Name] = true
	}
	for _, metaName := range conductor.MetaToolNames {
		assert.True(t, names[metaName], "interactive mode should see meta-tool %q", metaName)
	}

	executionDefs, err := cfg.Registry.Definitions(cfg.ReadonlyCtx, conductor.ExecutionPredicate(cfg.BasePredicate))
	require.NoError(t, err)
	for _, d := range executionDefs {
		for _, metaName := range conductor.MetaToolNames {
			assert.NotEqual(t, metaName, d.Name, "execution agent must never see meta-tool %q", metaName)
		}
	}
	_ = c
}

func TestPlanDependencyOrderIsRespected(t *testing.T) {
	llm := &queuedLLM{responses: [][]*model.Response{
		{textResponse("first step done")},
		{textResponse("second step done")},
	}}
	cfg := newTestConfig(t, llm)
	cfg.Planner = twoTaskPlanner{}
	c, err := conductor.New(cfg)
	require.NoError(t, err)

	_, err = c.HandleInput(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "search for X and then email results to Y"}))
	require.NoError(t, err)

	resp, err := c.HandleInput(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "yes, go ahead"}))
	require.NoError(t, err)

	plan := resp.Plan
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, "first step done", plan.Tasks[0].Output)
	assert.Equal(t, "second step done", plan.Tasks[1].Output)
}
