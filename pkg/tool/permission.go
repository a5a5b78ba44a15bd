package tool

import (
	"sync"
	"time"
)

// Policy determines whether a tool call may proceed without interactive
// confirmation.
type Policy string

const (
	// PolicyOnce asks for approval every time, never caching the decision.
	PolicyOnce Policy = "once"
	// PolicySession asks once per session, then remembers the decision
	// for the rest of the session (subject to TTL).
	PolicySession Policy = "session"
	// PolicyAlways never asks; the call is always approved.
	PolicyAlways Policy = "always"
	// PolicyNever never asks; the call is always denied.
	PolicyNever Policy = "never"
)

// Decision is the outcome of a permission check.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
	// DecisionAsk means no cached decision exists and the caller must
	// suspend the turn and obtain one interactively.
	DecisionAsk Decision = "ask"
)

// approvalKey identifies a cached approval: one session, one tool. Only
// PolicySession decisions are stored, and the call's arguments are not part
// of the key.
type approvalKey struct {
	sessionID string
	toolName  string
}

type approvalEntry struct {
	decision  Decision
	expiresAt time.Time
}

// PermissionManager resolves a tool call's Policy into a Decision, caching
// session-scoped approvals with a TTL so a `session` policy tool doesn't
// re-prompt on every call within the same conversation.
type PermissionManager struct {
	mu       sync.Mutex
	sessions map[approvalKey]approvalEntry
	ttl      time.Duration
	now      func() time.Time
}

// NewPermissionManager creates a manager whose session-scoped approvals
// expire after ttl. A zero ttl means session approvals never expire on
// their own (only ClearSession removes them).
func NewPermissionManager(ttl time.Duration) *PermissionManager {
	return &PermissionManager{
		sessions: make(map[approvalKey]approvalEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Check resolves whether a call under policy should proceed, consulting and
// updating the session approval cache as needed. It does not itself prompt
// the user — a DecisionAsk result means the caller must surface a HITL
// approval request and call Record once the user responds.
func (p *PermissionManager) Check(sessionID, toolName string, policy Policy) Decision {
	switch policy {
	case PolicyAlways:
		return DecisionApprove
	case PolicyNever:
		return DecisionDeny
	case PolicyOnce:
		return DecisionAsk
	case PolicySession:
		if d, ok := p.cached(sessionID, toolName); ok {
			return d
		}
		return DecisionAsk
	default:
		return DecisionAsk
	}
}

func (p *PermissionManager) cached(sessionID, toolName string) (Decision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := approvalKey{sessionID: sessionID, toolName: toolName}
	entry, ok := p.sessions[key]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && p.now().After(entry.expiresAt) {
		delete(p.sessions, key)
		return "", false
	}
	return entry.decision, true
}

// Record stores a user's decision for a session+tool pair under
// PolicySession so subsequent calls in the same session skip the prompt.
// Policies other than PolicySession never need a cached entry; Record is a
// no-op for them to avoid leaking state that would never be read.
func (p *PermissionManager) Record(sessionID, toolName string, policy Policy, decision Decision) {
	if policy != PolicySession {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var expiresAt time.Time
	if p.ttl > 0 {
		expiresAt = p.now().Add(p.ttl)
	}
	p.sessions[approvalKey{sessionID: sessionID, toolName: toolName}] = approvalEntry{
		decision:  decision,
		expiresAt: expiresAt,
	}
}

// ClearSession removes all cached decisions for a session, e.g. when a
// session ends or is reset.
func (p *PermissionManager) ClearSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key := range p.sessions {
		if key.sessionID == sessionID {
			delete(p.sessions, key)
		}
	}
}
