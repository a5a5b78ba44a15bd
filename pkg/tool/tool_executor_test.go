package tool_test

import (
	"context"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomware/agentkit/pkg/agent"
	"github.com/loomware/agentkit/pkg/tool"
)

// mockContext implements tool.Context for testing, mirroring the pattern
// already used by pkg/tool/functiontool's tests.
type mockContext struct{ context.Context }

func newMockContext() *mockContext { return &mockContext{Context: context.Background()} }

func (m *mockContext) FunctionCallID() string { return "test-call-id" }
func (m *mockContext) Actions() *agent.EventActions {
	return &agent.EventActions{StateDelta: make(map[string]any)}
}
func (m *mockContext) SearchMemory(ctx context.Context, query string) (*agent.MemorySearchResponse, error) {
	return nil, nil
}
func (m *mockContext) Artifacts() agent.Artifacts          { return nil }
func (m *mockContext) State() agent.State                  { return nil }
func (m *mockContext) InvocationID() string                { return "test-invocation" }
func (m *mockContext) AgentName() string                   { return "test-agent" }
func (m *mockContext) UserContent() *agent.Content          { return nil }
func (m *mockContext) ReadonlyState() agent.ReadonlyState   { return nil }
func (m *mockContext) UserID() string                       { return "test-user" }
func (m *mockContext) AppName() string                      { return "test-app" }
func (m *mockContext) SessionID() string                    { return "test-session" }
func (m *mockContext) Branch() string                       { return "" }

// echoTool is a minimal CallableTool for tests.
type echoTool struct {
	name   string
	schema map[string]any
	fail   error
	delay  time.Duration
}

func (e *echoTool) Name() string            { return e.name }
func (e *echoTool) Description() string     { return "echoes its arguments" }
func (e *echoTool) IsLongRunning() bool      { return false }
func (e *echoTool) RequiresApproval() bool   { return false }
func (e *echoTool) Schema() map[string]any   { return e.schema }

func (e *echoTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.fail != nil {
		return nil, e.fail
	}
	return args, nil
}

// streamTool is a minimal StreamingTool for tests.
type streamTool struct {
	name   string
	chunks []string
}

func (s *streamTool) Name() string          { return s.name }
func (s *streamTool) Description() string   { return "streams chunks" }
func (s *streamTool) IsLongRunning() bool    { return false }
func (s *streamTool) RequiresApproval() bool { return false }
func (s *streamTool) Schema() map[string]any { return nil }

func (s *streamTool) CallStreaming(ctx tool.Context, args map[string]any) iter.Seq2[*tool.Result, error] {
	return func(yield func(*tool.Result, error) bool) {
		for i, c := range s.chunks {
			streaming := i < len(s.chunks)-1
			if !yield(&tool.Result{Content: c, Streaming: streaming}, nil) {
				return
			}
		}
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, r.Register(&echoTool{name: "echo"}))

	got, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", got.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryEnabledFiltersByPredicate(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, r.Register(&echoTool{name: "a"}))
	require.NoError(t, r.Register(&echoTool{name: "b"}))

	enabled, err := r.Enabled(newMockContext(), tool.StringPredicate([]string{"a"}))
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "a", enabled[0].Name())
}

func TestExecutorRunsCallableTool(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, r.Register(&echoTool{name: "echo"}))
	exec := tool.NewExecutor(r, tool.ExecutorConfig{})

	inv := exec.Execute(newMockContext(), tool.ToolCall{Name: "echo", Args: map[string]any{"x": 1}})
	require.Equal(t, tool.InvocationCompleted, inv.Status)
	require.NotNil(t, inv.Result)
	assert.Equal(t, map[string]any{"x": 1}, inv.Result.Content)
}

func TestExecutorReportsToolNotFound(t *testing.T) {
	r := tool.NewRegistry()
	exec := tool.NewExecutor(r, tool.ExecutorConfig{})

	inv := exec.Execute(newMockContext(), tool.ToolCall{Name: "missing"})
	assert.Equal(t, tool.InvocationFailed, inv.Status)
	var notFound *tool.ErrToolNotFound
	assert.ErrorAs(t, inv.Err, &notFound)
}

func TestExecutorValidatesArguments(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, r.Register(&echoTool{
		name: "strict",
		schema: map[string]any{
			"type":     "object",
			"required": []any{"name"},
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
		},
	}))
	exec := tool.NewExecutor(r, tool.ExecutorConfig{})

	inv := exec.Execute(newMockContext(), tool.ToolCall{Name: "strict", Args: map[string]any{}})
	assert.Equal(t, tool.InvocationFailed, inv.Status)
	require.Error(t, inv.Err)

	inv = exec.Execute(newMockContext(), tool.ToolCall{Name: "strict", Args: map[string]any{"name": "ok"}})
	assert.Equal(t, tool.InvocationCompleted, inv.Status)
}

func TestExecutorTimesOutSlowTool(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, r.Register(&echoTool{name: "slow", delay: 50 * time.Millisecond}))
	exec := tool.NewExecutor(r, tool.ExecutorConfig{DefaultTimeout: 5 * time.Millisecond})

	inv := exec.Execute(newMockContext(), tool.ToolCall{Name: "slow"})
	assert.Equal(t, tool.InvocationTimeout, inv.Status)
}

func TestExecutorStreamsIncrementalResults(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, r.Register(&streamTool{name: "stream", chunks: []string{"a", "b", "c"}}))
	exec := tool.NewExecutor(r, tool.ExecutorConfig{})

	var got []string
	inv := exec.ExecuteStreaming(newMockContext(), tool.ToolCall{Name: "stream"}, func(r *tool.Result) bool {
		got = append(got, fmt.Sprint(r.Content))
		return true
	})

	assert.Equal(t, tool.InvocationCompleted, inv.Status)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestPermissionManagerPolicies(t *testing.T) {
	pm := tool.NewPermissionManager(time.Minute)

	assert.Equal(t, tool.DecisionApprove, pm.Check("s1", "t", tool.PolicyAlways))
	assert.Equal(t, tool.DecisionDeny, pm.Check("s1", "t", tool.PolicyNever))
	assert.Equal(t, tool.DecisionAsk, pm.Check("s1", "t", tool.PolicyOnce))

	assert.Equal(t, tool.DecisionAsk, pm.Check("s1", "t", tool.PolicySession))
	pm.Record("s1", "t", tool.PolicySession, tool.DecisionApprove)
	assert.Equal(t, tool.DecisionApprove, pm.Check("s1", "t", tool.PolicySession))

	pm.ClearSession("s1")
	assert.Equal(t, tool.DecisionAsk, pm.Check("s1", "t", tool.PolicySession))
}

func TestResultCacheHitsOnNormalizedArgs(t *testing.T) {
	c := tool.NewResultCache(time.Minute)

	call1 := tool.ToolCall{Name: "lookup", Args: map[string]any{"a": 1, "b": 2}}
	call2 := tool.ToolCall{Name: "lookup", Args: map[string]any{"b": 2, "a": 1}}

	_, ok := c.Get(call1)
	assert.False(t, ok)

	c.Put(call1, &tool.Result{Content: "cached"})

	got, ok := c.Get(call2)
	require.True(t, ok)
	assert.Equal(t, "cached", got.Content)
}

func TestResultCacheExpires(t *testing.T) {
	c := tool.NewResultCache(time.Millisecond)
	call := tool.ToolCall{Name: "lookup"}
	c.Put(call, &tool.Result{Content: "v"})

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(call)
	assert.False(t, ok)
}
