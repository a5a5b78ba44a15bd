package agentloop_test

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
	"github.com/loomware/agentkit/pkg/agentloop"
	"github.com/loomware/agentkit/pkg/contextmgr"
	"github.com/loomware/agentkit/pkg/model"
	"github.com/loomware/agentkit/pkg/tool"
)

type fakeEstimator struct{}

func (fakeEstimator) EstimateText(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for range s {
		n++
	}
	if n < 1 {
		return 0
	}
	return n/4 + 1
}

func (f fakeEstimator) EstimateStructured(data any) int { return 1 }

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
func (f *fakeToolContext) Artifacts() agent.Artifacts    { return nil }
func (f *fakeToolContext) State() agent.State            { return nil }
func (f *fakeToolContext) InvocationID() string          { return "inv-1" }
func (f *fakeToolContext) AgentName() string             { return "test-agent" }
func (f *fakeToolContext) UserContent() *agent.Content   { return nil }
func (f *fakeToolContext) ReadonlyState() agent.ReadonlyState { return nil }
func (f *fakeToolContext) UserID() string                { return "user-1" }
func (f *fakeToolContext) AppName() string                { return "test-app" }
func (f *fakeToolContext) SessionID() string               { return "session-1" }
func (f *fakeToolContext) Branch() string                  { return "" }

// echoTool is a trivial blocking tool used to drive one tool-call round.
type echoTool struct{ calls int }

func (t *echoTool) Name() string            { return "echo" }
func (t *echoTool) Description() string     { return "echoes input" }
func (t *echoTool) IsLongRunning() bool     { return false }
func (t *echoTool) RequiresApproval() bool  { return false }
func (t *echoTool) Schema() map[string]any  { return nil }
func (t *echoTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	t.calls++
	return map[string]any{"echo": args["text"]}, nil
}

// scriptedLLM replays a fixed sequence of responses, one per call.
type scriptedLLM struct {
	responses [][]*model.Response
	call      int
}

func (s *scriptedLLM) Name() string          { return "scripted" }
func (s *scriptedLLM) Provider() model.Provider { return model.ProviderOpenAI }
func (s *scriptedLLM) Close() error          { return nil }

func (s *scriptedLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		idx := s.call
		s.call++
		if idx >= len(s.responses) {
			yield(nil, fmt.Errorf("scriptedLLM: no more responses"))
			return
		}
		for _, resp := range s.responses[idx] {
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
		Usage:        &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func toolCallResponse(id, name string, args map[string]any) *model.Response {
	return &model.Response{
		ToolCalls:    []tool.ToolCall{{ID: id, Name: name, Args: args}},
		FinishReason: model.FinishReasonToolCalls,
		Usage:        &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func newTestLoop(t *testing.T, llm model.LLM, registry *tool.Registry) *agentloop.Loop {
	t.Helper()
	mgr, err := contextmgr.NewManager(contextmgr.ManagerConfig{
		SystemPrompt: "you are a test agent",
		Estimator:    fakeEstimator{},
		MaxTokens:    4000,
		ResponseReserve: 200,
	})
	require.NoError(t, err)

	executor := tool.NewExecutor(registry, tool.ExecutorConfig{DefaultTimeout: time.Second})

	lp, err := agentloop.New(agentloop.Config{
		Manager:     mgr,
		Registry:    registry,
		Executor:    executor,
		LLM:         llm,
		ReadonlyCtx: readonlyCtx{Context: context.Background()},
		ToolContext: func(callID string) tool.Context {
			return &fakeToolContext{Context: context.Background(), callID: callID}
		},
		MaxIterations: 5,
	})
	require.NoError(t, err)
	return lp
}

func collectEvents(lp *agentloop.Loop, ctx context.Context, input *a2a.Message) ([]*agentloop.Event, error) {
	var events []*agentloop.Event
	for ev, err := range lp.Run(ctx, input) {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func TestLoopCompletesWithoutToolCalls(t *testing.T) {
	llm := &scriptedLLM{responses: [][]*model.Response{{textResponse("hello world")}}}
	registry := tool.NewRegistry()
	lp := newTestLoop(t, llm, registry)

	events, err := collectEvents(lp, context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"}))
	require.NoError(t, err)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, agentloop.KindResponseComplete, last.Kind)
	assert.Equal(t, agentloop.StatusComplete, last.Status)

	foundTextDone := false
	for _, ev := range events {
		if ev.Kind == agentloop.KindTextDone {
			foundTextDone = true
			assert.Equal(t, "hello world", ev.TextDelta)
		}
	}
	assert.True(t, foundTextDone)
}

func TestLoopExecutesBlockingToolThenFinishes(t *testing.T) {
	et := &echoTool{}
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(et))

	llm := &scriptedLLM{responses: [][]*model.Response{
		{toolCallResponse("call-1", "echo", map[string]any{"text": "ping"})},
		{textResponse("done")},
	}}
	lp := newTestLoop(t, llm, registry)

	events, err := collectEvents(lp, context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "use echo"}))
	require.NoError(t, err)
	assert.Equal(t, 1, et.calls)

	var sawStart, sawComplete bool
	startIdx, completeIdx := -1, -1
	for i, ev := range events {
		if ev.Kind == agentloop.KindToolStart && ev.ToolCallID == "call-1" {
			sawStart = true
			startIdx = i
		}
		if ev.Kind == agentloop.KindToolComplete && ev.ToolCallID == "call-1" {
			sawComplete = true
			completeIdx = i
		}
	}
	assert.True(t, sawStart)
	assert.True(t, sawComplete)
	assert.Less(t, startIdx, completeIdx, "tool:start must precede tool:complete")

	last := events[len(events)-1]
	assert.Equal(t, agentloop.StatusComplete, last.Status)
}

func TestLoopReportsUnknownToolAsToolError(t *testing.T) {
	registry := tool.NewRegistry()
	llm := &scriptedLLM{responses: [][]*model.Response{
		{toolCallResponse("call-1", "missing", nil)},
		{textResponse("I could not find that tool")},
	}}
	lp := newTestLoop(t, llm, registry)

	events, err := collectEvents(lp, context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "go"}))
	require.NoError(t, err)

	var found bool
	for _, ev := range events {
		if ev.Kind == agentloop.KindToolComplete && ev.ToolErr != nil {
			found = true
		}
	}
	assert.True(t, found, "unknown tool should surface as a tool:complete error, not abort the loop")
	assert.Equal(t, agentloop.StatusComplete, events[len(events)-1].Status)
}

func TestLoopEmitsBudgetEventsBeforeContextPrepared(t *testing.T) {
	llm := &scriptedLLM{responses: [][]*model.Response{{textResponse("hi")}}}
	registry := tool.NewRegistry()
	lp := newTestLoop(t, llm, registry)

	events, err := collectEvents(lp, context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"}))
	require.NoError(t, err)

	budgetIdx, preparedIdx := -1, -1
	for i, ev := range events {
		if ev.Kind == agentloop.KindBudgetUpdated && budgetIdx == -1 {
			budgetIdx = i
		}
		if ev.Kind == agentloop.KindContextPrepared && preparedIdx == -1 {
			preparedIdx = i
		}
	}
	require.NotEqual(t, -1, budgetIdx)
	require.NotEqual(t, -1, preparedIdx)
	assert.Less(t, budgetIdx, preparedIdx)
}

func TestLoopRespectsCancellation(t *testing.T) {
	llm := &scriptedLLM{responses: [][]*model.Response{{textResponse("hi")}}}
	registry := tool.NewRegistry()
	lp := newTestLoop(t, llm, registry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, err := collectEvents(lp, ctx, a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"}))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, agentloop.StatusCancelled, events[0].Status)
}

func TestLoopHitsIterationCapOnPerpetualToolCalls(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(&echoTool{}))

	responses := make([][]*model.Response, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, []*model.Response{toolCallResponse(fmt.Sprintf("call-%d", i), "echo", map[string]any{"text": "x"})})
	}
	llm := &scriptedLLM{responses: responses}
	lp := newTestLoop(t, llm, registry)

	events, err := collectEvents(lp, context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "loop forever"}))
	require.NoError(t, err)

	last := events[len(events)-1]
	assert.Equal(t, agentloop.StatusTruncated, last.Status)
}
