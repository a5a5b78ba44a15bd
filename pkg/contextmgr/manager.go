package contextmgr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/loomware/agentkit/pkg/tool"
	"github.com/loomware/agentkit/pkg/tokenest"
)

// Estimator is the subset of tokenest.Estimator the manager needs,
// narrowed to an interface so tests can supply a deterministic fake.
type Estimator interface {
	EstimateText(string) int
	EstimateStructured(any) int
}

var _ Estimator = (*tokenest.Estimator)(nil)

// binaryLikeRatio is the base64-like character ratio above which an
// oversized tool result is treated as binary and replaced with a rejection
// stub rather than truncated (spec.md §4.3 step 3).
const binaryLikeRatio = 0.95

// ManagerConfig configures a Manager at construction. Sections and
// Strategy are registered once and fixed for the manager's lifetime;
// swapping them at runtime would violate the "no concurrent prepares, no
// silent registry mutation" discipline spec.md §5 calls for.
type ManagerConfig struct {
	SystemPrompt    string
	Sections        []Section
	Strategy        Strategy
	Estimator       Estimator
	MaxTokens       int
	ResponseReserve int
}

// Manager owns the conversation, current input, and plugin section
// registry (spec.md §3's Ownership rule). It is the only component that
// mutates the Conversation; the Agentic Loop drives it but never reaches
// into the conversation directly.
type Manager struct {
	conv      *Conversation
	sections  map[string]Section
	strategy  Strategy
	estimator Estimator

	systemPrompt    string
	maxTokens       int
	responseReserve int

	lastBudget      *Budget
	lastBudgetStale bool
}

// NewManager validates strategy's required plugins against the registered
// sections and returns a ready-to-use Manager, or an error if a dependency
// is missing — registration-time validation, not a runtime surprise.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	sections := make(map[string]Section, len(cfg.Sections))
	for _, s := range cfg.Sections {
		sections[s.Name()] = s
	}

	if cfg.Strategy != nil {
		for _, dep := range cfg.Strategy.RequiredPlugins() {
			if _, ok := sections[dep]; !ok {
				return nil, fmt.Errorf("contextmgr: strategy %q requires plugin %q, which is not registered", cfg.Strategy.Name(), dep)
			}
		}
	}

	if cfg.MaxTokens <= 0 {
		return nil, fmt.Errorf("contextmgr: MaxTokens must be positive")
	}

	return &Manager{
		conv:            NewConversation(),
		sections:        sections,
		strategy:        cfg.Strategy,
		estimator:       cfg.Estimator,
		systemPrompt:    cfg.SystemPrompt,
		maxTokens:       cfg.MaxTokens,
		responseReserve: cfg.ResponseReserve,
	}, nil
}

// Conversation exposes the underlying conversation for read access (e.g.
// session snapshotting). Mutation goes through SetCurrentInput /
// SetToolResults / CommitTurn / Prepare's own compaction; the one direct
// mutation is Conversation.RestoreMessages when a session is restored.
func (m *Manager) Conversation() *Conversation { return m.conv }

// SystemPrompt returns the manager's configured system preamble text, for
// inclusion in a session snapshot (spec.md §3's "system-prompt" field).
func (m *Manager) SystemPrompt() string { return m.systemPrompt }

// Sections returns the manager's registered plugin sections, keyed by name,
// so a session snapshotter can call Serialize on each without reaching into
// manager internals.
func (m *Manager) Sections() map[string]Section {
	out := make(map[string]Section, len(m.sections))
	for k, v := range m.sections {
		out[k] = v
	}
	return out
}

// SetCurrentInput stages msg as the pending turn for the next Prepare call.
func (m *Manager) SetCurrentInput(msg *a2a.Message) {
	m.conv.SetCurrentInput(msg)
	m.invalidateLastBudget()
}

// SetToolResults stages a tool-results batch as the current input, built
// from the executor's per-call outcomes, ordered by tool_use emission
// order (spec.md §5's ordering guarantee).
func (m *Manager) SetToolResults(results []ToolResultEntry) {
	parts := make([]a2a.Part, 0, len(results))
	for _, r := range results {
		parts = append(parts, NewToolResultPart(r.ToolUseID, r.Content, r.IsError))
		for _, img := range r.Images {
			parts = append(parts, NewImageRefPart(img.URL, img.Width, img.Height))
		}
	}
	m.conv.SetCurrentInput(a2a.NewMessage(a2a.MessageRoleUser, parts...))
	m.invalidateLastBudget()
}

// ToolResultEntry is one tool's outcome, used to build the current-input
// batch via SetToolResults.
type ToolResultEntry struct {
	ToolUseID string
	Content   string
	IsError   bool
	Images    []ImageRefInfo
}

// ImageRefInfo describes a detached image carried alongside a tool result.
type ImageRefInfo struct {
	URL           string
	Width, Height int
}

// CommitTurn flushes current input into the conversation tail, appends the
// assistant's message, and marks the cached budget stale — any direct
// conversation mutation outside Prepare invalidates last_budget (resolved
// Open Question, see DESIGN.md).
func (m *Manager) CommitTurn(assistant *a2a.Message) {
	m.conv.CommitTurn(assistant)
	m.invalidateLastBudget()
}

func (m *Manager) invalidateLastBudget() {
	m.lastBudgetStale = true
}

// LastBudget returns the most recent Prepare's budget and whether it is
// stale (a conversation mutation happened since). A stale budget is never
// served in place of a fresh one — Prepare always recomputes unconditionally;
// this is purely an internal-consistency signal for callers inspecting
// history, not a caching optimization (spec.md §9 Open Question, resolved).
func (m *Manager) LastBudget() (budget Budget, stale bool) {
	if m.lastBudget == nil {
		return Budget{}, true
	}
	return *m.lastBudget, m.lastBudgetStale
}

// PreparedInput is the output of Prepare: a ready-to-send system preamble
// and ordered message sequence, its budget accounting, and whether
// compaction ran this call.
type PreparedInput struct {
	// Preamble is the assembled system preamble (system prompt + plugin
	// instruction/content sections). It conceptually occupies position 0
	// of the prepared sequence (spec.md §4.3's invariant); it is carried
	// as a distinct field, not a Messages[0] entry, because it maps
	// directly onto model.Request.SystemInstruction — the teacher's
	// existing system-instruction channel — rather than duplicating it as
	// a synthetic message.
	Preamble string

	// Messages is the sanitized, ordered conversation + current input.
	Messages []*a2a.Message

	Budget    Budget
	Compacted bool
}

// ToRequestFields maps a PreparedInput onto a model.Request-shaped pair, for
// callers that want to hand it directly to a pkg/model.LLM.
func (p *PreparedInput) ToRequestFields() (systemInstruction string, messages []*a2a.Message) {
	return p.Preamble, p.Messages
}

// Prepare produces (input, budget, compacted) for the next LLM call,
// implementing spec.md §4.3's seven-step pipeline in order. toolDefs are
// the tool definitions that will accompany this request; their token cost
// is accounted but they are never compactable.
func (m *Manager) Prepare(ctx context.Context, toolDefs []tool.Definition) (*PreparedInput, error) {
	// Step 1: tool-definition tokens.
	toolsTokens := m.estimateTools(toolDefs)
	maxAvailableForTools := m.maxTokens - m.responseReserve
	if toolsTokens > maxAvailableForTools {
		return nil, ErrToolsExceedBudget(toolsTokens, maxAvailableForTools)
	}

	// Step 2: system preamble.
	preamble := m.buildPreamble(ctx)
	systemTokens := m.estimator.EstimateText(preamble)

	budget := Budget{
		MaxTokens:       m.maxTokens,
		ResponseReserve: m.responseReserve,
		ToolsTokens:     toolsTokens,
		SystemTokens:    systemTokens,
	}

	// Step 3: current-input admission. AvailableForContent already nets out
	// ToolsTokens and SystemTokens (both set on budget above); CurrentInputTokens
	// is still its zero value here, so the result is exactly the room left
	// for currentInput alone.
	currentInput := m.conv.CurrentInput()
	currentInputTokens := m.estimateMessage(currentInput)
	availableForContent := budget.AvailableForContent()

	if currentInputTokens > availableForContent {
		if currentInput != nil && isUserMessage(currentInput) {
			return nil, ErrInputTooLarge(currentInputTokens, availableForContent)
		}
		// Tool results batch: emergency truncation.
		truncated := m.emergencyTruncate(currentInput, availableForContent)
		m.conv.SetCurrentInput(truncated)
		currentInput = truncated
		currentInputTokens = m.estimateMessage(currentInput)
	}
	budget.CurrentInputTokens = currentInputTokens

	// Step 4: conversation tokens + compaction.
	messages := m.conv.Messages()
	conversationTokens := m.estimateMessages(messages)
	budget.ConversationTokens = conversationTokens
	budget = budget.withUtilization()

	compacted := false
	if m.strategy != nil && m.strategy.Threshold() > 0 {
		utilFraction := budget.UtilizationPercent / 100
		if utilFraction > m.strategy.Threshold() {
			targetFraction := m.strategy.Threshold() - 0.10
			if targetFraction < 0 {
				targetFraction = 0
			}
			// Strategy.Compact's target is compared against conversation
			// tokens alone (it has no visibility into tools/system/current-
			// input overhead), so convert the total-budget fraction into a
			// conversation-only ceiling by subtracting that overhead —
			// otherwise compacting down to targetFraction of conversation
			// tokens can still leave TotalUsed() above the threshold it was
			// meant to bring the budget under.
			targetTokens := int(targetFraction*float64(m.maxTokens)) - toolsTokens - systemTokens - currentInputTokens
			if targetTokens < 0 {
				targetTokens = 0
			}
			compactionCtx := &CompactionContext{
				Budget:   budget,
				Messages: messages,
				conv:     m.conv,
				sections: m.sections,
			}
			for name := range m.sections {
				compactionCtx.SectionNames = append(compactionCtx.SectionNames, name)
			}
			freed, log, err := m.strategy.Compact(compactionCtx, targetTokens)
			if err != nil {
				return nil, fmt.Errorf("contextmgr: compaction failed: %w", err)
			}
			if freed > 0 {
				compacted = true
				slog.Info("contextmgr: compaction ran", "strategy", m.strategy.Name(), "freed", freed, "log", log)
				messages = m.conv.Messages()
				conversationTokens = m.estimateMessages(messages)
				budget.ConversationTokens = conversationTokens
				budget = budget.withUtilization()
			}
		}
	}

	// Step 5: budget events.
	m.emitBudgetEvents(budget)

	if budget.TotalUsed() > m.maxTokens-m.responseReserve {
		return nil, ErrContextOverflow(budget)
	}

	// Step 6: assemble.
	assembled := make([]*a2a.Message, 0, len(messages)+1)
	assembled = append(assembled, messages...)
	if currentInput != nil && !IsEmpty(currentInput) {
		assembled = append(assembled, currentInput)
	}

	// Step 7: mandatory pair sanitizer.
	sanitized := SanitizePairs(assembled)

	m.lastBudget = &budget
	m.lastBudgetStale = false

	return &PreparedInput{
		Preamble:  preamble,
		Messages:  sanitized,
		Budget:    budget,
		Compacted: compacted,
	}, nil
}

func (m *Manager) estimateTools(defs []tool.Definition) int {
	total := 0
	for _, d := range defs {
		total += m.estimator.EstimateText(d.Name + " " + d.Description)
		if d.Parameters != nil {
			total += m.estimator.EstimateStructured(d.Parameters)
		}
	}
	return total
}

func (m *Manager) buildPreamble(ctx context.Context) string {
	var b strings.Builder
	b.WriteString(m.systemPrompt)

	for _, sec := range sectionsByPriority(m.sectionSlice()) {
		content, err := sec.ProduceContent(ctx)
		if err != nil {
			slog.Warn("contextmgr: section produce-content failed", "section", sec.Name(), "error", err)
			continue
		}
		if content == "" {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(content)
	}

	return b.String()
}

func (m *Manager) sectionSlice() []Section {
	out := make([]Section, 0, len(m.sections))
	for _, s := range m.sections {
		out = append(out, s)
	}
	return out
}

func (m *Manager) estimateMessage(msg *a2a.Message) int {
	if msg == nil {
		return 0
	}
	total := 0
	for _, part := range msg.Parts {
		total += m.estimatePart(part)
	}
	return total
}

func (m *Manager) estimateMessages(messages []*a2a.Message) int {
	total := 0
	for _, msg := range messages {
		total += m.estimateMessage(msg)
	}
	return total
}

func (m *Manager) estimatePart(part a2a.Part) int {
	switch p := part.(type) {
	case a2a.TextPart:
		return m.estimator.EstimateText(p.Text)
	case a2a.DataPart:
		return m.estimator.EstimateStructured(p.Data)
	default:
		return m.estimator.EstimateStructured(part)
	}
}

func isUserMessage(msg *a2a.Message) bool {
	if msg == nil {
		return false
	}
	for _, part := range msg.Parts {
		if IsToolResult(part) {
			return false
		}
	}
	return true
}

// emergencyTruncate reduces an oversized tool-results message to fit
// availableTokens, per spec.md §4.3 step 3: binary-like content (base64
// ratio > 0.95) is replaced with a rejection stub; textual content is
// truncated with a visible "[TRUNCATED]" marker. Detached image parts are
// preserved untouched.
func (m *Manager) emergencyTruncate(msg *a2a.Message, availableTokens int) *a2a.Message {
	if msg == nil || availableTokens <= 0 {
		return msg
	}

	nonImageParts := 0
	for _, part := range msg.Parts {
		if !isImageRef(part) {
			nonImageParts++
		}
	}
	perPartBudget := availableTokens
	if nonImageParts > 1 {
		perPartBudget = availableTokens / nonImageParts
	}
	if perPartBudget < 1 {
		perPartBudget = 1
	}

	out := make([]a2a.Part, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		if isImageRef(part) {
			out = append(out, part)
			continue
		}
		dp, ok := part.(a2a.DataPart)
		if !ok {
			out = append(out, part)
			continue
		}
		id, isResult := ToolResultID(part)
		if !isResult {
			out = append(out, part)
			continue
		}
		content, _ := dp.Data["content"].(string)
		truncated := m.truncateContent(content, perPartBudget)
		out = append(out, NewToolResultPart(id, truncated, dp.Data["error"] == true))
	}

	sanitized := *msg
	sanitized.Parts = out
	return &sanitized
}

func (m *Manager) truncateContent(content string, budgetTokens int) string {
	if binaryLikeRatio <= base64Ratio(content) {
		full := "[REJECTED: content appears to be binary data and was not transmitted]"
		if m.estimator.EstimateText(full) <= budgetTokens {
			return full
		}
		// Budget too small even for the full rejection stub — fall back to
		// a minimal marker rather than handing emergencyTruncate's caller
		// content that still overflows after "truncation".
		return "[REJECTED]"
	}

	if m.estimator.EstimateText(content) <= budgetTokens {
		return content
	}

	// Approximate a char cutoff from the token budget, then confirm and
	// tighten if the estimator disagrees (structured content rarely
	// estimates at exactly 4 chars/token).
	approxChars := budgetTokens * 4
	if approxChars > len(content) {
		approxChars = len(content)
	}
	marker := "\n[TRUNCATED]"
	for approxChars > 0 {
		candidate := TruncateToRuneBoundary(content, approxChars) + marker
		if m.estimator.EstimateText(candidate) <= budgetTokens {
			return candidate
		}
		shrink := approxChars / 10
		if shrink < 1 {
			shrink = 1
		}
		approxChars -= shrink
		if approxChars < 1 {
			break
		}
	}
	return marker
}

// TruncateToRuneBoundary slices s at byte offset n, backing up to the start
// of the rune straddling n if n doesn't already land on a boundary — content
// here is arbitrary tool output and may not be ASCII.
func TruncateToRuneBoundary(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// base64Ratio estimates how base64-like content is: the fraction of
// characters drawn from the base64 alphabet. A ratio above binaryLikeRatio
// is treated as binary data rather than truncatable text.
func base64Ratio(content string) float64 {
	if len(content) == 0 {
		return 0
	}
	matches := 0
	for _, r := range content {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '+', r == '/', r == '=':
			matches++
		}
	}
	return float64(matches) / float64(len(content))
}

func isImageRef(part a2a.Part) bool {
	dp, ok := part.(a2a.DataPart)
	if !ok {
		return false
	}
	t, _ := dp.Data["type"].(string)
	return t == partTypeImageRef
}

func (m *Manager) emitBudgetEvents(budget Budget) {
	slog.Debug("contextmgr: budget:updated", "utilization", budget.UtilizationPercent, "total_used", budget.TotalUsed())
	if budget.UtilizationPercent >= BudgetCriticalPercent {
		slog.Warn("contextmgr: budget:critical", "utilization", budget.UtilizationPercent)
	} else if budget.UtilizationPercent >= BudgetWarningPercent {
		slog.Warn("contextmgr: budget:warning", "utilization", budget.UtilizationPercent)
	}
}
