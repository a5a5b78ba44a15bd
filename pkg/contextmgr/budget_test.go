package contextmgr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomware/agentkit/pkg/contextmgr"
)

func TestBudgetTotalUsedIsSumOfComponents(t *testing.T) {
	b := contextmgr.Budget{
		MaxTokens:          1000,
		ResponseReserve:    100,
		ToolsTokens:        50,
		SystemTokens:       30,
		ConversationTokens: 200,
		CurrentInputTokens: 20,
	}
	assert.Equal(t, 300, b.TotalUsed())
}

func TestBudgetAvailableNeverNegative(t *testing.T) {
	b := contextmgr.Budget{
		MaxTokens:          100,
		ResponseReserve:    10,
		ToolsTokens:        50,
		SystemTokens:       30,
		ConversationTokens: 200,
		CurrentInputTokens: 20,
	}
	assert.Equal(t, 0, b.Available())
	assert.Equal(t, 0, b.AvailableForContent())
}

func TestBudgetAvailableForContentExcludesConversation(t *testing.T) {
	b := contextmgr.Budget{
		MaxTokens:       1000,
		ResponseReserve: 100,
		ToolsTokens:     200,
	}
	assert.Equal(t, 700, b.AvailableForContent())
}
