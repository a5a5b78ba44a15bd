package contextmgr

import "github.com/a2aproject/a2a-go/a2a"

// SanitizePairs is the final, mandatory step of Prepare (spec.md §4.3 step
// 7 / §9's "pair sanitizer"). It scans the assembled sequence and removes
// any tool_use whose id has no matching tool_result later, and any
// tool_result whose tool_use_id has no matching prior tool_use, then drops
// messages left empty by that removal.
//
// This is the authoritative reconciliation point for pairing: compaction
// strategies are free to remove messages via CompactionContext.RemoveMessages
// without separately preserving pair integrity — this function is always
// run afterward, on the final assembled sequence.
func SanitizePairs(messages []*a2a.Message) []*a2a.Message {
	toolUseIDs := make(map[string]bool)
	toolResultIDs := make(map[string]bool)

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		for _, part := range msg.Parts {
			if id, ok := ToolUseID(part); ok {
				toolUseIDs[id] = true
			}
			if id, ok := ToolResultID(part); ok {
				toolResultIDs[id] = true
			}
		}
	}

	out := make([]*a2a.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		kept := make([]a2a.Part, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			if id, ok := ToolUseID(part); ok {
				if !toolResultIDs[id] {
					continue // orphaned tool_use: no later tool_result
				}
			}
			if id, ok := ToolResultID(part); ok {
				if !toolUseIDs[id] {
					continue // orphaned tool_result: no prior tool_use
				}
			}
			kept = append(kept, part)
		}
		if len(kept) == 0 {
			continue // drop empty messages
		}
		sanitized := *msg
		sanitized.Parts = kept
		out = append(out, &sanitized)
	}

	return out
}
