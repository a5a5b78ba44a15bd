// Package agentloop implements the outer run/stream loop that turns a
// single user input into zero or more LLM turns and tool executions: it
// drives pkg/contextmgr.Manager.Prepare, pkg/model.LLM.GenerateContent, and
// pkg/tool.Executor.Execute around the pseudocode in spec.md §4.4, and
// yields a typed event stream rather than returning a single value —
// mirroring pkg/agent/llmagent/flow.go's Flow.Run shape
// (iter.Seq2[*agent.Event, error]) but with the loop's own event taxonomy
// instead of the teacher's session-bound agent.Event.
package agentloop

import (
	"github.com/loomware/agentkit/pkg/contextmgr"
	"github.com/loomware/agentkit/pkg/model"
	"github.com/loomware/agentkit/pkg/tool"
)

// Kind identifies the category of an Event.
type Kind string

const (
	KindTextDelta         Kind = "text:delta"
	KindTextDone          Kind = "text:done"
	KindToolStart         Kind = "tool:start"
	KindToolComplete      Kind = "tool:complete"
	KindToolProgress      Kind = "tool:progress"
	KindBudgetUpdated     Kind = "budget:updated"
	KindBudgetWarning     Kind = "budget:warning"
	KindBudgetCritical    Kind = "budget:critical"
	KindContextPrepared   Kind = "context:prepared"
	KindTruncatedResponse Kind = "truncated_response"
	KindResponseComplete  Kind = "response_complete"
)

// FinishStatus is the terminal status carried by a response_complete event.
type FinishStatus string

const (
	StatusComplete  FinishStatus = "complete"
	StatusTruncated FinishStatus = "truncated"
	StatusFailed    FinishStatus = "failed"
	StatusCancelled FinishStatus = "cancelled"
)

// Event is one item of the loop's output stream. Only the fields relevant
// to Kind are populated; the rest are zero.
type Event struct {
	Kind Kind
	Iter int

	// KindTextDelta / KindTextDone
	TextDelta string

	// KindToolStart / KindToolComplete / KindToolProgress
	ToolCallID string
	ToolName   string
	ToolResult *tool.Result
	ToolErr    error

	// KindBudgetUpdated / KindBudgetWarning / KindBudgetCritical / KindContextPrepared
	Budget contextmgr.Budget

	// KindResponseComplete
	Status       FinishStatus
	Usage        *model.Usage
	FinishReason model.FinishReason
	Err          error
}
