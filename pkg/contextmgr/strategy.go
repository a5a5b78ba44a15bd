package contextmgr

import (
	"fmt"

	"github.com/a2aproject/a2a-go/a2a"
)

// Strategy is the compaction policy object consulted by the Context
// Manager when utilization crosses Threshold. Modeled directly on the
// teacher's pkg/reasoning.ReasoningStrategy shape (PrepareIteration /
// GetRequiredTools generalize into Compact / RequiredPlugins here).
type Strategy interface {
	// Name identifies the strategy for logging and registration.
	Name() string

	// Threshold is the utilization fraction (0..1) at which Prepare
	// triggers this strategy's Compact.
	Threshold() float64

	// RequiredPlugins names sections this strategy depends on (e.g. a
	// summarization strategy may require an LLM-backed "summarizer"
	// section). Validated at registration: a missing plugin fails
	// registration immediately rather than surprising a later Prepare.
	RequiredPlugins() []string

	// Compact is invoked when utilization exceeds Threshold. It should
	// free tokens until the conversation is back under
	// Threshold-0.10 (the 10-point headroom spec.md §4.3 step 4 calls
	// for), using the mutators on CompactionContext.
	Compact(ctx *CompactionContext, target int) (freed int, log []string, err error)

	// Consolidate is an optional, advisory post-turn pass (e.g. expensive
	// LLM summarization) offered to, not required by, the strategy
	// interface. A strategy that has nothing to consolidate should return
	// nil without doing work.
	Consolidate(ctx *CompactionContext) error
}

// CompactionContext is the read-only view plus mutators a Strategy
// operates through. It never exposes the Conversation/Section types
// directly so a strategy cannot bypass the pair sanitizer or bookkeeping.
type CompactionContext struct {
	Budget       Budget
	Messages     []*a2a.Message
	SectionNames []string

	conv     *Conversation
	sections map[string]Section
}

// RemoveMessages drops the committed messages at the given indices (into
// the Messages slice this CompactionContext was built with). If removing a
// message orphans a tool_use/tool_result pair, the pair sanitizer — not the
// strategy — reconciles it on the next Prepare.
func (c *CompactionContext) RemoveMessages(indices []int) {
	c.conv.removeAt(indices)
}

// CompactPlugin asks the named section to shrink to target tokens,
// returning freed tokens. Returns an error if the section doesn't exist,
// isn't compactable, or has priority 0.
func (c *CompactionContext) CompactPlugin(name string, target int) (int, error) {
	sec, ok := c.sections[name]
	if !ok {
		return 0, fmt.Errorf("contextmgr: no such plugin section %q", name)
	}
	if !sec.Compactable() || sec.Priority() == 0 {
		return 0, fmt.Errorf("contextmgr: plugin section %q is not compactable", name)
	}
	return sec.Compact(target)
}

// RecencyStrategy is the default compaction strategy: drop the oldest
// committed messages until the conversation fits target, always
// preserving the most recent KeepRecentCount messages and never touching
// the current-input slot (compaction never operates on current_input, only
// emergency truncation does). Grounded on pkg/agent/history_selector.go's
// selectMessagesByCount / token-based selection, generalized from
// llms.Message to a2a.Message.
type RecencyStrategy struct {
	ThresholdFraction float64
	KeepRecentCount   int
	Estimator         interface{ EstimateText(string) int }
}

// NewRecencyStrategy returns a RecencyStrategy with the given utilization
// threshold and a floor on how many of the most recent messages are never
// dropped.
func NewRecencyStrategy(threshold float64, keepRecent int, estimator interface{ EstimateText(string) int }) *RecencyStrategy {
	if keepRecent <= 0 {
		keepRecent = 4
	}
	return &RecencyStrategy{ThresholdFraction: threshold, KeepRecentCount: keepRecent, Estimator: estimator}
}

func (s *RecencyStrategy) Name() string              { return "recency" }
func (s *RecencyStrategy) Threshold() float64        { return s.ThresholdFraction }
func (s *RecencyStrategy) RequiredPlugins() []string { return nil }

func (s *RecencyStrategy) Compact(ctx *CompactionContext, target int) (int, []string, error) {
	messages := ctx.Messages
	if len(messages) <= s.KeepRecentCount {
		return 0, nil, nil
	}

	freed := 0
	var dropped []int
	var log []string

	currentTokens := s.totalTokens(messages)
	i := 0
	for currentTokens > target && len(messages)-len(dropped) > s.KeepRecentCount && i < len(messages)-s.KeepRecentCount {
		msgTokens := s.totalTokens([]*a2a.Message{messages[i]})
		dropped = append(dropped, i)
		freed += msgTokens
		currentTokens -= msgTokens
		log = append(log, fmt.Sprintf("dropped message %d (%d tokens)", i, msgTokens))
		i++
	}

	if len(dropped) > 0 {
		ctx.RemoveMessages(dropped)
	}
	return freed, log, nil
}

func (s *RecencyStrategy) Consolidate(ctx *CompactionContext) error {
	// Advisory-only; the recency strategy has no expensive summarization
	// step to offer.
	return nil
}

func (s *RecencyStrategy) totalTokens(messages []*a2a.Message) int {
	total := 0
	for _, m := range messages {
		total += s.Estimator.EstimateText(TextOf(m))
	}
	return total
}
