package agentloop

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"golang.org/x/sync/errgroup"

	"github.com/loomware/agentkit/pkg/agent"
	"github.com/loomware/agentkit/pkg/contextmgr"
	"github.com/loomware/agentkit/pkg/model"
	"github.com/loomware/agentkit/pkg/tool"
)

// defaultMaxIterations bounds the loop against a misbehaving model that
// never stops requesting tools (spec.md §4.4's "Cap" termination case).
const defaultMaxIterations = 25

const (
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 8 * time.Second
	defaultMaxRetries     = 3
)

// Config wires a Loop to its collaborators. The loop itself never touches
// a session or an InvocationContext directly — ReadonlyCtx and
// ToolContext are narrow seams a caller fills in from whatever
// session/invocation machinery it runs (e.g. an adapter over
// pkg/agent.InvocationContext), matching pkg/agent/llmagent/flow.go's
// newToolContext(invCtx, callID) pattern but inverted into a factory so
// this package stays decoupled from pkg/agent's session model.
type Config struct {
	Manager  *contextmgr.Manager
	Registry *tool.Registry
	Executor *tool.Executor
	LLM      model.LLM

	// ReadonlyCtx resolves which tools are enabled for this invocation
	// (passed to Registry.Enabled/Definitions).
	ReadonlyCtx agent.ReadonlyContext

	// Predicate filters the tool set seen by the model this turn — the
	// Mode Conductor (C5) supplies one that excludes meta-tools in
	// execution mode.
	Predicate tool.Predicate

	// ToolContext builds the tool.Context for one invocation, keyed by
	// tool-call ID.
	ToolContext func(callID string) tool.Context

	MaxIterations int
	Streaming     bool

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MaxRetries     int
}

// Loop drives one run(user_input)/stream(user_input) invocation per
// spec.md §4.4's pseudocode.
type Loop struct {
	cfg Config
}

// New validates cfg and returns a ready Loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("agentloop: Manager is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agentloop: Registry is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("agentloop: Executor is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("agentloop: LLM is required")
	}
	if cfg.ToolContext == nil {
		return nil, fmt.Errorf("agentloop: ToolContext factory is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Loop{cfg: cfg}, nil
}

// Run executes one invocation starting from userInput, yielding a typed
// event stream until a response_complete event (always the last one
// yielded, barring a hard early exit when the consumer stops iterating).
func (l *Loop) Run(ctx context.Context, userInput *a2a.Message) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		// stopped records that the consumer ended iteration; after that no
		// further event is yielded, not even a terminal one.
		consumerYield := yield
		stopped := false
		yield = func(ev *Event, err error) bool {
			if !consumerYield(ev, err) {
				stopped = true
				return false
			}
			return true
		}

		l.cfg.Manager.SetCurrentInput(userInput)

		total := &model.Usage{}

		for it := 0; it < l.cfg.MaxIterations; it++ {
			if ctx.Err() != nil {
				yield(&Event{Iter: it, Kind: KindResponseComplete, Status: StatusCancelled, Err: &CancelledError{Cause: ctx.Err()}}, nil)
				return
			}

			defs, err := l.cfg.Registry.Definitions(l.cfg.ReadonlyCtx, l.cfg.Predicate)
			if err != nil {
				yield(&Event{Iter: it, Kind: KindResponseComplete, Status: StatusFailed, Err: err}, nil)
				return
			}

			prepared, err := l.cfg.Manager.Prepare(ctx, defs)
			if err != nil {
				yield(&Event{Iter: it, Kind: KindResponseComplete, Status: StatusFailed, Err: err}, nil)
				return
			}

			// Budget events precede context:prepared for the same call
			// (spec.md §5's ordering guarantee).
			if !l.emitBudgetEvents(it, prepared.Budget, yield) {
				return
			}
			if !yield(&Event{Iter: it, Kind: KindContextPrepared, Budget: prepared.Budget}, nil) {
				return
			}

			req := &model.Request{
				Messages:          prepared.Messages,
				Tools:             defs,
				SystemInstruction: prepared.Preamble,
			}

			resp, err := l.callWithRetry(ctx, it, req, yield)
			if err != nil {
				if stopped {
					return
				}
				var cancelled *CancelledError
				if ctxErr := ctx.Err(); ctxErr != nil {
					cancelled = &CancelledError{Cause: ctxErr}
					yield(&Event{Iter: it, Kind: KindResponseComplete, Status: StatusCancelled, Err: cancelled}, nil)
					return
				}
				yield(&Event{Iter: it, Kind: KindResponseComplete, Status: StatusFailed, Err: err}, nil)
				return
			}

			if resp.Usage != nil {
				total.PromptTokens += resp.Usage.PromptTokens
				total.CompletionTokens += resp.Usage.CompletionTokens
				total.TotalTokens += resp.Usage.TotalTokens
				total.ThinkingTokens += resp.Usage.ThinkingTokens
			}

			text := resp.TextContent()
			if text != "" {
				if !yield(&Event{Iter: it, Kind: KindTextDone, TextDelta: text}, nil) {
					return
				}
			}

			assistantMsg := buildAssistantMessage(resp)

			if !resp.HasToolCalls() {
				l.cfg.Manager.CommitTurn(assistantMsg)
				yield(&Event{Iter: it, Kind: KindResponseComplete, Status: StatusComplete, Usage: total, FinishReason: resp.FinishReason}, nil)
				return
			}

			l.cfg.Manager.CommitTurn(assistantMsg)

			results, ok := l.executeToolCalls(ctx, it, resp.ToolCalls, yield)
			if !ok {
				return
			}

			l.cfg.Manager.SetToolResults(results)
		}

		yield(&Event{Iter: l.cfg.MaxIterations, Kind: KindTruncatedResponse}, nil)
		yield(&Event{Iter: l.cfg.MaxIterations, Kind: KindResponseComplete, Status: StatusTruncated, Usage: total}, nil)
	}
}

func (l *Loop) emitBudgetEvents(it int, budget contextmgr.Budget, yield func(*Event, error) bool) bool {
	if !yield(&Event{Iter: it, Kind: KindBudgetUpdated, Budget: budget}, nil) {
		return false
	}
	if budget.UtilizationPercent >= contextmgr.BudgetCriticalPercent {
		return yield(&Event{Iter: it, Kind: KindBudgetCritical, Budget: budget}, nil)
	}
	if budget.UtilizationPercent >= contextmgr.BudgetWarningPercent {
		return yield(&Event{Iter: it, Kind: KindBudgetWarning, Budget: budget}, nil)
	}
	return true
}

// callWithRetry calls the LLM, streaming partial text:delta events, and
// retries the whole call with exponential backoff while the failure
// classifies as a recoverable ProviderError (spec.md §7).
func (l *Loop) callWithRetry(ctx context.Context, it int, req *model.Request, yield func(*Event, error) bool) (*model.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		resp, err := l.callOnce(ctx, it, req, yield)
		if err == nil {
			return resp, nil
		}

		provErr := classifyProviderErr(err)
		lastErr = provErr
		if !provErr.Recoverable || attempt == l.cfg.MaxRetries {
			return nil, provErr
		}

		delay := provErr.RetryAfter
		if delay <= 0 {
			delay = backoff(l.cfg.RetryBaseDelay, l.cfg.RetryMaxDelay, attempt)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

func (l *Loop) callOnce(ctx context.Context, it int, req *model.Request, yield func(*Event, error) bool) (*model.Response, error) {
	var finalResp *model.Response
	var streamErr error

	for resp, err := range l.cfg.LLM.GenerateContent(ctx, req, l.cfg.Streaming) {
		if err != nil {
			streamErr = err
			break
		}
		if resp == nil {
			continue
		}
		if resp.Partial {
			if delta := resp.TextContent(); delta != "" {
				if !yield(&Event{Iter: it, Kind: KindTextDelta, TextDelta: delta}, nil) {
					return nil, fmt.Errorf("agentloop: consumer stopped mid-stream")
				}
			}
			continue
		}
		if resp.ErrorCode != "" {
			streamErr = fmt.Errorf("agentloop: provider error %s: %s", resp.ErrorCode, resp.ErrorMessage)
			break
		}
		finalResp = resp
	}

	if streamErr != nil {
		return nil, streamErr
	}
	if finalResp == nil {
		return nil, fmt.Errorf("agentloop: provider returned no final response")
	}
	return finalResp, nil
}

// executeToolCalls runs blocking tool_uses sequentially in emission order
// and fans non-blocking ones out concurrently via errgroup, synchronizing
// before returning — spec.md §4.4/§5's ordering + concurrency rules.
// Results are always assembled back into emission order regardless of
// which finished first.
func (l *Loop) executeToolCalls(ctx context.Context, it int, calls []tool.ToolCall, yield func(*Event, error) bool) ([]contextmgr.ToolResultEntry, bool) {
	entries := make([]contextmgr.ToolResultEntry, len(calls))

	for i, call := range calls {
		t, _ := l.cfg.Registry.Get(call.Name)
		blocking := t == nil || !t.IsLongRunning()
		if !blocking {
			continue
		}
		if !yield(&Event{Iter: it, Kind: KindToolStart, ToolCallID: call.ID, ToolName: call.Name}, nil) {
			return nil, false
		}
		inv, ok := l.runCall(ctx, it, t, call, yield)
		if !ok {
			return nil, false
		}
		if !yield(&Event{Iter: it, Kind: KindToolComplete, ToolCallID: call.ID, ToolName: call.Name, ToolResult: inv.Result, ToolErr: inv.Err}, nil) {
			return nil, false
		}
		entries[i] = resultEntry(call, inv)
	}

	nonBlockingIdx := make([]int, 0)
	for i, call := range calls {
		t, _ := l.cfg.Registry.Get(call.Name)
		if t != nil && t.IsLongRunning() {
			nonBlockingIdx = append(nonBlockingIdx, i)
			if !yield(&Event{Iter: it, Kind: KindToolStart, ToolCallID: call.ID, ToolName: call.Name}, nil) {
				return nil, false
			}
		}
	}

	if len(nonBlockingIdx) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		invocations := make([]*tool.Invocation, len(nonBlockingIdx))
		var yieldMu sync.Mutex
		var stopped bool
		for j, idx := range nonBlockingIdx {
			j, idx := j, idx
			call := calls[idx]
			t, _ := l.cfg.Registry.Get(call.Name)
			g.Go(func() error {
				if _, ok := t.(tool.StreamingTool); ok {
					invocations[j] = l.cfg.Executor.ExecuteStreaming(l.cfg.ToolContext(call.ID), tool.ToolCall{ID: call.ID, Name: call.Name, Args: call.Args}, func(res *tool.Result) bool {
						if !res.Streaming {
							return true
						}
						// Concurrent tasks share one yield func, which an
						// iterator's consumer doesn't expect to be called
						// from more than one goroutine at a time.
						yieldMu.Lock()
						defer yieldMu.Unlock()
						ok := yield(&Event{Iter: it, Kind: KindToolProgress, ToolCallID: call.ID, ToolName: call.Name, ToolResult: res}, nil)
						if !ok {
							stopped = true
						}
						return ok
					})
				} else {
					invocations[j] = l.cfg.Executor.Execute(l.cfg.ToolContext(call.ID), tool.ToolCall{ID: call.ID, Name: call.Name, Args: call.Args})
				}
				return gctx.Err()
			})
		}
		_ = g.Wait()
		if stopped {
			return nil, false
		}
		for j, idx := range nonBlockingIdx {
			call := calls[idx]
			inv := invocations[j]
			if inv == nil {
				continue
			}
			if !yield(&Event{Iter: it, Kind: KindToolComplete, ToolCallID: call.ID, ToolName: call.Name, ToolResult: inv.Result, ToolErr: inv.Err}, nil) {
				return nil, false
			}
			entries[idx] = resultEntry(call, inv)
		}
	}

	return entries, true
}

// runCall executes one blocking tool call, routing through
// Executor.ExecuteStreaming and emitting a tool:progress event per
// intermediate Result when the tool implements StreamingTool, so a
// long-running blocking tool's progress reaches the consumer instead of
// being silently collapsed into its final Result. Non-streaming tools go
// through the plain Execute path unchanged. ok is false only when the
// consumer stopped iteration mid-stream.
func (l *Loop) runCall(ctx context.Context, it int, t tool.Tool, call tool.ToolCall, yield func(*Event, error) bool) (*tool.Invocation, bool) {
	if _, ok := t.(tool.StreamingTool); !ok {
		return l.cfg.Executor.Execute(l.cfg.ToolContext(call.ID), call), true
	}

	stopped := false
	inv := l.cfg.Executor.ExecuteStreaming(l.cfg.ToolContext(call.ID), call, func(res *tool.Result) bool {
		if !res.Streaming {
			return true
		}
		if !yield(&Event{Iter: it, Kind: KindToolProgress, ToolCallID: call.ID, ToolName: call.Name, ToolResult: res}, nil) {
			stopped = true
			return false
		}
		return true
	})
	return inv, !stopped
}

func resultEntry(call tool.ToolCall, inv *tool.Invocation) contextmgr.ToolResultEntry {
	isError := inv.Err != nil || inv.Status == tool.InvocationFailed || inv.Status == tool.InvocationTimeout
	content := ""
	if inv.Result != nil {
		content = fmt.Sprintf("%v", inv.Result.Content)
		if inv.Result.Error != "" {
			content = inv.Result.Error
			isError = true
		}
	} else if inv.Err != nil {
		content = inv.Err.Error()
	}
	return contextmgr.ToolResultEntry{
		ToolUseID: call.ID,
		Content:   content,
		IsError:   isError,
	}
}

// buildAssistantMessage converts an LLM response into the a2a.Message
// form committed to conversation history: text parts, followed by a
// tool_use part per requested tool call — mirroring
// pkg/agent/llmagent/flow.go's buildModelResponseEvent part assembly, but
// producing the wire a2a.Message pkg/contextmgr commits instead of a
// session agent.Event.
func buildAssistantMessage(resp *model.Response) *a2a.Message {
	var parts []a2a.Part
	if resp.Content != nil {
		for _, part := range resp.Content.Parts {
			if tp, ok := part.(a2a.TextPart); ok && tp.Text != "" {
				parts = append(parts, part)
			}
		}
	}
	for _, tc := range resp.ToolCalls {
		parts = append(parts, contextmgr.NewToolUsePart(tc.ID, tc.Name, tc.Args))
	}
	if len(parts) == 0 {
		return nil
	}
	return a2a.NewMessage(a2a.MessageRoleAgent, parts...)
}
