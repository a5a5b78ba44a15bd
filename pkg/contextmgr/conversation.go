package contextmgr

import (
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
)

// Conversation is an append-only ordered sequence of committed messages,
// plus the single "current input" slot holding the pending user turn or
// tool-results batch not yet committed. current input is flushed into the
// conversation tail, ahead of the assistant message, when the assistant
// responds (see Manager.CommitTurn).
type Conversation struct {
	mu           sync.RWMutex
	messages     []*a2a.Message
	currentInput *a2a.Message
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Messages returns a snapshot copy of the committed messages, in order.
func (c *Conversation) Messages() []*a2a.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*a2a.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of committed messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// SetCurrentInput replaces the pending current-input slot. Called by the
// Agentic Loop with the user's utterance (iteration 0) or with a tool
// results batch (subsequent iterations).
func (c *Conversation) SetCurrentInput(msg *a2a.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentInput = msg
}

// CurrentInput returns the pending current-input message, or nil if empty.
func (c *Conversation) CurrentInput() *a2a.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentInput
}

// CommitTurn flushes the current-input slot into the conversation tail,
// then appends assistant (if non-nil), and clears the slot. This is the
// only way messages enter the committed history.
func (c *Conversation) CommitTurn(assistant *a2a.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentInput != nil && !IsEmpty(c.currentInput) {
		c.messages = append(c.messages, c.currentInput)
	}
	c.currentInput = nil

	if assistant != nil && !IsEmpty(assistant) {
		c.messages = append(c.messages, assistant)
	}
}

// RestoreMessages replaces the committed history wholesale with msgs,
// clearing any pending current-input slot. Used only when rehydrating a
// Conversation from a session snapshot; never called mid-turn.
func (c *Conversation) RestoreMessages(msgs []*a2a.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append([]*a2a.Message(nil), msgs...)
	c.currentInput = nil
}

// removeAt removes committed messages at the given indices (into the
// pre-removal Messages() slice), used by compaction strategies via
// CompactionContext.RemoveMessages. Indices need not be sorted.
func (c *Conversation) removeAt(indices []int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}

	kept := c.messages[:0:0]
	for i, m := range c.messages {
		if !drop[i] {
			kept = append(kept, m)
		}
	}
	c.messages = kept
}

// snapshot returns the conversation's serializable state for session
// persistence.
type conversationSnapshot struct {
	Messages     []*a2a.Message `json:"messages"`
	CurrentInput *a2a.Message   `json:"current_input,omitempty"`
}

func (c *Conversation) snapshot() conversationSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := make([]*a2a.Message, len(c.messages))
	copy(msgs, c.messages)
	return conversationSnapshot{Messages: msgs, CurrentInput: c.currentInput}
}

func (c *Conversation) restore(snap conversationSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = snap.Messages
	c.currentInput = snap.CurrentInput
}
