package agentapi_test

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
	"github.com/loomware/agentkit/pkg/agentapi"
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
func (f *fakeToolContext) Artifacts() agent.Artifacts       { return nil }
func (f *fakeToolContext) State() agent.State               { return nil }
func (f *fakeToolContext) InvocationID() string             { return "inv-1" }
func (f *fakeToolContext) AgentName() string                { return "test-agent" }
func (f *fakeToolContext) UserContent() *agent.Content       { return nil }
func (f *fakeToolContext) ReadonlyState() agent.ReadonlyState { return nil }
func (f *fakeToolContext) UserID() string                    { return "user-1" }
func (f *fakeToolContext) AppName() string                   { return "test-app" }
func (f *fakeToolContext) SessionID() string                 { return "session-1" }
func (f *fakeToolContext) Branch() string                    { return "" }

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

func newTestAgentConfig(t *testing.T, llm model.LLM, store agentapi.Store) agentapi.Config {
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

	return agentapi.Config{
		Manager: mgr,
		Store:   store,
		Conductor: conductor.Config{
			Registry:    registry,
			Executor:    executor,
			LLM:         llm,
			ReadonlyCtx: readonlyCtx{Context: context.Background()},
			ToolContext: func(callID string) tool.Context {
				return &fakeToolContext{Context: context.Background(), callID: callID}
			},
			MaxIterations: 5,
		},
		AutoSave: true,
	}
}

func TestCreateAndChatSimpleTurn(t *testing.T) {
	llm := &queuedLLM{responses: [][]*model.Response{{textResponse("4")}}}
	cfg := newTestAgentConfig(t, llm, agentapi.NewMemoryStore())

	a, err := agentapi.Create(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, a.SessionID())
	assert.Equal(t, conductor.ModeInteractive, a.Mode())

	resp, err := a.Chat(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "what is 2+2"}))
	require.NoError(t, err)
	assert.Equal(t, "4", resp.Text)
}

func TestChatAutoSavesAndResumeRestoresConversation(t *testing.T) {
	llm := &queuedLLM{responses: [][]*model.Response{{textResponse("hello there")}}}
	store := agentapi.NewMemoryStore()
	cfg := newTestAgentConfig(t, llm, store)
	cfg.SessionID = "fixed-session"

	a, err := agentapi.Create(cfg)
	require.NoError(t, err)

	_, err = a.Chat(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"}))
	require.NoError(t, err)

	exists, err := store.Exists(context.Background(), "fixed-session")
	require.NoError(t, err)
	assert.True(t, exists, "autosave should have persisted a snapshot")

	resumeCfg := newTestAgentConfig(t, llm, store)
	resumed, err := agentapi.Resume(context.Background(), "fixed-session", resumeCfg)
	require.NoError(t, err)
	assert.Equal(t, conductor.ModeInteractive, resumed.Mode())
	assert.NotEmpty(t, resumeCfg.Manager.Conversation().Messages(), "resume should have restored committed history")
}

func TestResumeWithoutSavedSessionErrors(t *testing.T) {
	store := agentapi.NewMemoryStore()
	_, err := agentapi.Resume(context.Background(), "never-saved", newTestAgentConfig(t, &queuedLLM{}, store))
	assert.Error(t, err)
}

func TestDestroyRemovesPersistedSession(t *testing.T) {
	llm := &queuedLLM{responses: [][]*model.Response{{textResponse("ok")}}}
	store := agentapi.NewMemoryStore()
	cfg := newTestAgentConfig(t, llm, store)
	cfg.SessionID = "to-destroy"

	a, err := agentapi.Create(cfg)
	require.NoError(t, err)
	_, err = a.Chat(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"}))
	require.NoError(t, err)

	require.NoError(t, a.Destroy(context.Background()))
	exists, err := store.Exists(context.Background(), "to-destroy")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStreamInteractiveYieldsTextDeltaThenDone(t *testing.T) {
	llm := &queuedLLM{responses: [][]*model.Response{{textResponse("streamed answer")}}}
	cfg := newTestAgentConfig(t, llm, agentapi.NewMemoryStore())
	a, err := agentapi.Create(cfg)
	require.NoError(t, err)

	var deltas []string
	var final *conductor.UniversalResponse
	for ev, err := range a.Stream(context.Background(), a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "what is 2+2"})) {
		require.NoError(t, err)
		if ev.Done {
			final = ev.Response
			continue
		}
		deltas = append(deltas, ev.TextDelta)
	}
	require.NotNil(t, final)
	assert.Contains(t, deltas, "streamed answer")
}
