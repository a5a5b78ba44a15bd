// Package contextmgr owns conversation history, the pending "current
// input" slot, and plugin-produced preamble sections, and assembles a
// token-budgeted, pair-sanitized input for each LLM call.
//
// It reuses a2a.Message / a2a.Part as its wire type rather than defining a
// parallel one: the teacher's own provider adapters (pkg/model/openai,
// anthropic, gemini) already encode tool_use/tool_result as
// a2a.DataPart{Data: {"type": ..., ...}}, which is exactly the part
// taxonomy this package needs.
package contextmgr

import (
	"github.com/a2aproject/a2a-go/a2a"
)

// Part type discriminators, matching the convention already used by
// pkg/model/openai's extractToolCalls/extractToolResults and
// pkg/agent/event.go's hasPartOfType.
const (
	partTypeToolUse    = "tool_use"
	partTypeToolResult = "tool_result"
	partTypeImageRef   = "image_ref"
)

// NewToolUsePart builds the DataPart representation of a tool_use content
// item: `{id, name, arguments}` per spec.md §3.
func NewToolUsePart(id, name string, args map[string]any) a2a.Part {
	return a2a.DataPart{Data: map[string]any{
		"type":      partTypeToolUse,
		"id":        id,
		"name":      name,
		"arguments": args,
	}}
}

// NewToolResultPart builds the DataPart representation of a tool_result
// content item: `{tool_use_id, content, error?}` per spec.md §3.
func NewToolResultPart(toolUseID, content string, isError bool) a2a.Part {
	data := map[string]any{
		"type":        partTypeToolResult,
		"tool_use_id": toolUseID,
		"content":     content,
	}
	if isError {
		data["error"] = true
	}
	return a2a.DataPart{Data: data}
}

// NewImageRefPart builds the DataPart representation of a detached image
// reference, used by tool_result's optional image list and by plain
// image_ref content items.
func NewImageRefPart(url string, width, height int) a2a.Part {
	return a2a.DataPart{Data: map[string]any{
		"type":   partTypeImageRef,
		"url":    url,
		"width":  width,
		"height": height,
	}}
}

// ToolUseID returns the id of a tool_use part, and ok=true if part is one.
func ToolUseID(part a2a.Part) (id string, ok bool) {
	dp, isData := part.(a2a.DataPart)
	if !isData {
		return "", false
	}
	if t, _ := dp.Data["type"].(string); t != partTypeToolUse {
		return "", false
	}
	id, _ = dp.Data["id"].(string)
	return id, true
}

// ToolResultID returns the tool_use_id a tool_result part references, and
// ok=true if part is one.
func ToolResultID(part a2a.Part) (id string, ok bool) {
	dp, isData := part.(a2a.DataPart)
	if !isData {
		return "", false
	}
	if t, _ := dp.Data["type"].(string); t != partTypeToolResult {
		return "", false
	}
	id, _ = dp.Data["tool_use_id"].(string)
	return id, true
}

// IsToolUse reports whether part is a tool_use content item.
func IsToolUse(part a2a.Part) bool {
	_, ok := ToolUseID(part)
	return ok
}

// IsToolResult reports whether part is a tool_result content item.
func IsToolResult(part a2a.Part) bool {
	_, ok := ToolResultID(part)
	return ok
}

// TextOf concatenates every TextPart in msg, ignoring other part kinds.
func TextOf(msg *a2a.Message) string {
	if msg == nil {
		return ""
	}
	var text string
	for _, part := range msg.Parts {
		if tp, ok := part.(a2a.TextPart); ok {
			text += tp.Text
		}
	}
	return text
}

// IsEmpty reports whether msg is nil or has no parts; a part with empty
// content still counts as a part. Prepare uses it to leave an empty
// current input out of the assembled sequence.
func IsEmpty(msg *a2a.Message) bool {
	return msg == nil || len(msg.Parts) == 0
}
