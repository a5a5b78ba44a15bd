package agentapi

import (
	"fmt"

	"github.com/loomware/agentkit/pkg/conductor"
	"github.com/loomware/agentkit/pkg/contextmgr"
)

// Snapshot is the opaque-to-storage session state spec.md §3 describes:
// committed conversation, every plugin section's serialized state, the
// system prompt, and the conductor's mode/pending-plan. A Store backend
// never inspects these fields — it only has to round-trip them.
type Snapshot struct {
	Conversation []byte            `json:"conversation"`
	PluginStates map[string][]byte `json:"plugin_states"`
	SystemPrompt string            `json:"system_prompt"`
	Mode         conductor.Mode    `json:"mode"`
	Plan         *conductor.Plan   `json:"plan,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

// buildSnapshot captures the conductor's and context manager's current
// state. Called before every autosave and on an explicit Save.
func buildSnapshot(mgr *contextmgr.Manager, cond *conductor.Conductor, metadata map[string]any) (*Snapshot, error) {
	convData, err := contextmgr.MarshalMessages(mgr.Conversation().Messages())
	if err != nil {
		return nil, fmt.Errorf("agentapi: marshal conversation: %w", err)
	}

	states := make(map[string][]byte)
	for name, sec := range mgr.Sections() {
		data, err := sec.Serialize()
		if err != nil {
			return nil, fmt.Errorf("agentapi: serialize section %q: %w", name, err)
		}
		states[name] = data
	}

	return &Snapshot{
		Conversation: convData,
		PluginStates: states,
		SystemPrompt: mgr.SystemPrompt(),
		Mode:         cond.Mode(),
		Plan:         cond.Plan(),
		Metadata:     metadata,
	}, nil
}

// restoreSnapshot rehydrates mgr and cond from a previously built Snapshot.
func restoreSnapshot(snap *Snapshot, mgr *contextmgr.Manager, cond *conductor.Conductor) error {
	msgs, err := contextmgr.UnmarshalMessages(snap.Conversation)
	if err != nil {
		return fmt.Errorf("agentapi: unmarshal conversation: %w", err)
	}
	mgr.Conversation().RestoreMessages(msgs)

	sections := mgr.Sections()
	for name, data := range snap.PluginStates {
		sec, ok := sections[name]
		if !ok {
			// The restoring process registered a different set of plugin
			// sections than the one that produced this snapshot; skip
			// rather than fail, since the missing section may simply no
			// longer be configured.
			continue
		}
		if err := sec.Restore(data); err != nil {
			return fmt.Errorf("agentapi: restore section %q: %w", name, err)
		}
	}

	cond.RestoreState(snap.Mode, snap.Plan)
	return nil
}
