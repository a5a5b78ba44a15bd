package contextmgr_test

import (
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"

	"github.com/loomware/agentkit/pkg/contextmgr"
)

func TestSanitizePairs(t *testing.T) {
	tests := []struct {
		name        string
		messages    []*a2a.Message
		wantCount   int
		wantHasUse  bool
		wantHasDrop bool
	}{
		{
			name: "matched pair survives",
			messages: []*a2a.Message{
				a2a.NewMessage(a2a.MessageRoleAgent, contextmgr.NewToolUsePart("call-1", "search", nil)),
				a2a.NewMessage(a2a.MessageRoleUser, contextmgr.NewToolResultPart("call-1", "ok", false)),
			},
			wantCount:  2,
			wantHasUse: true,
		},
		{
			name: "orphaned tool_use is dropped with its now-empty message",
			messages: []*a2a.Message{
				a2a.NewMessage(a2a.MessageRoleAgent, contextmgr.NewToolUsePart("call-1", "search", nil)),
			},
			wantCount:   0,
			wantHasDrop: true,
		},
		{
			name: "orphaned tool_result is dropped, text sibling survives",
			messages: []*a2a.Message{
				a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hello"}, contextmgr.NewToolResultPart("call-missing", "ok", false)),
			},
			wantCount: 1,
		},
		{
			name:      "empty input",
			messages:  nil,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := contextmgr.SanitizePairs(tt.messages)
			assert.Len(t, got, tt.wantCount)
		})
	}
}

func TestSanitizePairsDoesNotMutateInput(t *testing.T) {
	original := a2a.NewMessage(a2a.MessageRoleAgent, contextmgr.NewToolUsePart("call-1", "search", nil))
	messages := []*a2a.Message{original}

	out := contextmgr.SanitizePairs(messages)

	assert.Empty(t, out)
	assert.Len(t, original.Parts, 1, "original message must be untouched")
}

func TestSanitizePairsPreservesOrderAndNonToolParts(t *testing.T) {
	messages := []*a2a.Message{
		a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "first"}),
		a2a.NewMessage(a2a.MessageRoleAgent, contextmgr.NewToolUsePart("call-1", "search", nil)),
		a2a.NewMessage(a2a.MessageRoleUser, contextmgr.NewToolResultPart("call-1", "result", false)),
		a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "done"}),
	}

	out := contextmgr.SanitizePairs(messages)

	assert.Len(t, out, 4)
	assert.Equal(t, "first", contextmgr.TextOf(out[0]))
	assert.True(t, contextmgr.IsToolUse(out[1].Parts[0]))
	assert.True(t, contextmgr.IsToolResult(out[2].Parts[0]))
	assert.Equal(t, "done", contextmgr.TextOf(out[3]))
}
