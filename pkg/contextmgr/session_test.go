package contextmgr_test

import (
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomware/agentkit/pkg/contextmgr"
)

func TestManagerSystemPromptAndSections(t *testing.T) {
	sec := &fakeSection{name: "retrieved-docs", priority: 5, content: "some passage"}
	mgr := newTestManager(t, 4000, 200, nil, sec)

	assert.Equal(t, "you are a helpful agent", mgr.SystemPrompt())

	sections := mgr.Sections()
	require.Contains(t, sections, "retrieved-docs")
	assert.Equal(t, sec, sections["retrieved-docs"])
}

func TestMarshalUnmarshalMessagesRoundTrips(t *testing.T) {
	original := []*a2a.Message{
		a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "what's 2+2"}),
		a2a.NewMessage(a2a.MessageRoleAgent,
			contextmgr.NewToolUsePart("call-1", "calculator", map[string]any{"expr": "2+2"})),
		a2a.NewMessage(a2a.MessageRoleUser,
			contextmgr.NewToolResultPart("call-1", "4", false)),
		a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "It's 4."}),
	}

	data, err := contextmgr.MarshalMessages(original)
	require.NoError(t, err)

	restored, err := contextmgr.UnmarshalMessages(data)
	require.NoError(t, err)
	require.Len(t, restored, len(original))

	assert.Equal(t, "what's 2+2", contextmgr.TextOf(restored[0]))
	id, ok := contextmgr.ToolUseID(restored[1].Parts[0])
	require.True(t, ok)
	assert.Equal(t, "call-1", id)
	resultID, ok := contextmgr.ToolResultID(restored[2].Parts[0])
	require.True(t, ok)
	assert.Equal(t, "call-1", resultID)
	assert.Equal(t, "It's 4.", contextmgr.TextOf(restored[3]))
}

func TestConversationRestoreMessagesReplacesHistory(t *testing.T) {
	conv := contextmgr.NewConversation()
	conv.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "pending turn"}))

	restored := []*a2a.Message{
		a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hello"}),
		a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "hi there"}),
	}
	conv.RestoreMessages(restored)

	assert.Len(t, conv.Messages(), 2)
	assert.Nil(t, conv.CurrentInput(), "restoring history must clear any pending current input")
}
