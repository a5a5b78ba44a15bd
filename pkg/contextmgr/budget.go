package contextmgr

// Budget is the per-turn token accounting snapshot produced by Prepare.
// Derived: Available = MaxTokens - ResponseReserve - (sum of components).
type Budget struct {
	MaxTokens          int
	ResponseReserve    int
	ToolsTokens        int
	SystemTokens       int
	ConversationTokens int
	CurrentInputTokens int
	UtilizationPercent float64
}

// TotalUsed returns the sum of every accounted component. Testable property
// (spec.md §8.3): breakdown.system + tools + conversation + currentInput ==
// totalUsed.
func (b Budget) TotalUsed() int {
	return b.SystemTokens + b.ToolsTokens + b.ConversationTokens + b.CurrentInputTokens
}

// Available returns the remaining token budget for content beyond what's
// already accounted for, after reserving headroom for the model's response.
func (b Budget) Available() int {
	avail := b.MaxTokens - b.ResponseReserve - b.TotalUsed()
	if avail < 0 {
		return 0
	}
	return avail
}

// AvailableForContent returns the budget remaining once tools, the system
// preamble, and the current input already on b are accounted for —
// everything committed except conversation history — used by Prepare's
// step 3 (current-input admission check).
func (b Budget) AvailableForContent() int {
	avail := b.MaxTokens - b.ResponseReserve - b.ToolsTokens - b.SystemTokens - b.CurrentInputTokens
	if avail < 0 {
		return 0
	}
	return avail
}

func (b Budget) withUtilization() Budget {
	if b.MaxTokens <= 0 {
		b.UtilizationPercent = 0
		return b
	}
	b.UtilizationPercent = float64(b.TotalUsed()) / float64(b.MaxTokens) * 100
	return b
}

// Thresholds for budget events (spec.md §4.3 step 5).
const (
	BudgetWarningPercent  = 70.0
	BudgetCriticalPercent = 90.0
)
