package contextmgr_test

import (
	"context"
	"strings"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomware/agentkit/pkg/contextmgr"
	"github.com/loomware/agentkit/pkg/tool"
)

// fakeEstimator counts whitespace-delimited words, giving deterministic,
// human-reasoned-about token counts without depending on a real tokenizer.
type fakeEstimator struct{}

func (fakeEstimator) EstimateText(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

func (f fakeEstimator) EstimateStructured(data any) int {
	switch v := data.(type) {
	case map[string]any:
		total := 0
		for k, val := range v {
			total += f.EstimateText(k)
			total += f.EstimateStructured(val)
		}
		return total
	case string:
		return f.EstimateText(v)
	default:
		return 1
	}
}

func newTestManager(t *testing.T, maxTokens, reserve int, strategy contextmgr.Strategy, sections ...contextmgr.Section) *contextmgr.Manager {
	t.Helper()
	mgr, err := contextmgr.NewManager(contextmgr.ManagerConfig{
		SystemPrompt:    "you are a helpful agent",
		Sections:        sections,
		Strategy:        strategy,
		Estimator:       fakeEstimator{},
		MaxTokens:       maxTokens,
		ResponseReserve: reserve,
	})
	require.NoError(t, err)
	return mgr
}

func TestPrepareAssemblesBasicTurn(t *testing.T) {
	mgr := newTestManager(t, 1000, 100, nil)
	mgr.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hello there"}))

	out, err := mgr.Prepare(context.Background(), nil)
	require.NoError(t, err)

	assert.Contains(t, out.Preamble, "you are a helpful agent")
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "hello there", contextmgr.TextOf(out.Messages[0]))
	assert.False(t, out.Compacted)
	assert.Equal(t, out.Budget.TotalUsed(), out.Budget.SystemTokens+out.Budget.ToolsTokens+out.Budget.ConversationTokens+out.Budget.CurrentInputTokens)
}

func TestPrepareCommitTurnCarriesHistoryForward(t *testing.T) {
	mgr := newTestManager(t, 1000, 100, nil)
	mgr.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "what is the weather"}))
	_, err := mgr.Prepare(context.Background(), nil)
	require.NoError(t, err)

	mgr.CommitTurn(a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "it is sunny"}))
	mgr.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "thanks"}))

	out, err := mgr.Prepare(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)
	assert.Equal(t, "what is the weather", contextmgr.TextOf(out.Messages[0]))
	assert.Equal(t, "it is sunny", contextmgr.TextOf(out.Messages[1]))
	assert.Equal(t, "thanks", contextmgr.TextOf(out.Messages[2]))
}

func TestPrepareReturnsInputTooLargeForOversizedUserTurn(t *testing.T) {
	mgr := newTestManager(t, 50, 10, nil)
	huge := strings.Repeat("word ", 100)
	mgr.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: huge}))

	_, err := mgr.Prepare(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, &contextmgr.Error{Kind: contextmgr.KindInputTooLarge})
}

func TestPrepareEmergencyTruncatesOversizedToolResults(t *testing.T) {
	mgr := newTestManager(t, 100, 10, nil)
	// The result's tool_use is committed first; without it the pair
	// sanitizer would drop the result as orphaned.
	mgr.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleAgent, contextmgr.NewToolUsePart("call-1", "search", nil)))
	mgr.CommitTurn(nil)
	longText := strings.Repeat("lorem ipsum dolor sit amet ", 40)
	mgr.SetToolResults([]contextmgr.ToolResultEntry{
		{ToolUseID: "call-1", Content: longText},
	})

	out, err := mgr.Prepare(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)

	content, ok := out.Messages[1].Parts[0].(a2a.DataPart)
	require.True(t, ok)
	text, _ := content.Data["content"].(string)
	assert.Contains(t, text, "[TRUNCATED]")
	assert.Less(t, len(text), len(longText))
}

func TestPrepareRejectsBinaryLikeToolResults(t *testing.T) {
	mgr := newTestManager(t, 40, 5, nil)
	mgr.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleAgent, contextmgr.NewToolUsePart("call-1", "search", nil)))
	mgr.CommitTurn(nil)
	// 40 blank-separated runs: 40 words for the fake estimator, more than
	// the 30 tokens left for current input, while base64 characters still
	// make up over 95% of the content.
	binary := strings.Repeat(strings.Repeat("QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVo=", 3)+" ", 40)
	mgr.SetToolResults([]contextmgr.ToolResultEntry{
		{ToolUseID: "call-1", Content: binary},
	})

	out, err := mgr.Prepare(context.Background(), nil)
	require.NoError(t, err)
	content := out.Messages[1].Parts[0].(a2a.DataPart)
	text, _ := content.Data["content"].(string)
	assert.Contains(t, text, "REJECTED")
}

func TestPrepareToolsExceedingBudgetIsAnError(t *testing.T) {
	mgr := newTestManager(t, 20, 5, nil)
	defs := []tool.Definition{
		{Name: "search", Description: strings.Repeat("word ", 30)},
	}

	_, err := mgr.Prepare(context.Background(), defs)
	require.Error(t, err)
	assert.ErrorIs(t, err, &contextmgr.Error{Kind: contextmgr.KindContextOverflow})
}

func TestPrepareCompactsWhenUtilizationExceedsThreshold(t *testing.T) {
	strategy := contextmgr.NewRecencyStrategy(0.3, 1, fakeEstimator{})
	mgr := newTestManager(t, 200, 10, strategy)

	for i := 0; i < 10; i++ {
		mgr.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "a message with several words in it"}))
		mgr.CommitTurn(a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "an equally wordy reply message"}))
	}

	mgr.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "one more"}))
	out, err := mgr.Prepare(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, out.Compacted)
	assert.Less(t, len(out.Messages), 21)
}

func TestPrepareSanitizesOrphanedToolPairsFromHistory(t *testing.T) {
	mgr := newTestManager(t, 1000, 10, nil)
	mgr.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleAgent, contextmgr.NewToolUsePart("call-1", "search", nil)))
	mgr.CommitTurn(nil)
	mgr.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"}))

	out, err := mgr.Prepare(context.Background(), nil)
	require.NoError(t, err)

	for _, msg := range out.Messages {
		for _, part := range msg.Parts {
			assert.False(t, contextmgr.IsToolUse(part), "orphaned tool_use must have been sanitized out")
		}
	}
}

type fakeSection struct {
	name       string
	priority   int
	content    string
	compactErr error
}

func (f *fakeSection) Name() string     { return f.name }
func (f *fakeSection) Priority() int    { return f.priority }
func (f *fakeSection) Compactable() bool { return true }
func (f *fakeSection) ProduceContent(ctx context.Context) (string, error) {
	return f.content, nil
}
func (f *fakeSection) TokenSize() int { return fakeEstimator{}.EstimateText(f.content) }
func (f *fakeSection) Compact(target int) (int, error) {
	return 0, f.compactErr
}
func (f *fakeSection) Serialize() ([]byte, error) { return []byte(f.content), nil }
func (f *fakeSection) Restore(data []byte) error  { f.content = string(data); return nil }

func TestPreparePreambleIncludesSections(t *testing.T) {
	sec := &fakeSection{name: "retrieved-docs", priority: 5, content: "retrieved passage one"}
	mgr := newTestManager(t, 1000, 10, nil, sec)
	mgr.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"}))

	out, err := mgr.Prepare(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, out.Preamble, "retrieved passage one")
}

func TestNewManagerRejectsStrategyWithMissingPlugin(t *testing.T) {
	_, err := contextmgr.NewManager(contextmgr.ManagerConfig{
		Estimator: fakeEstimator{},
		MaxTokens: 100,
		Strategy:  &requiresPluginStrategy{plugin: "summarizer"},
	})
	require.Error(t, err)
}

type requiresPluginStrategy struct{ plugin string }

func (s *requiresPluginStrategy) Name() string                                          { return "needs-plugin" }
func (s *requiresPluginStrategy) Threshold() float64                                     { return 0.9 }
func (s *requiresPluginStrategy) RequiredPlugins() []string                              { return []string{s.plugin} }
func (s *requiresPluginStrategy) Compact(ctx *contextmgr.CompactionContext, target int) (int, []string, error) {
	return 0, nil, nil
}
func (s *requiresPluginStrategy) Consolidate(ctx *contextmgr.CompactionContext) error { return nil }
