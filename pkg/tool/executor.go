package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// InvocationStatus tracks the lifecycle of a single tool invocation.
type InvocationStatus string

const (
	InvocationPending   InvocationStatus = "pending"
	InvocationExecuting InvocationStatus = "executing"
	InvocationCompleted InvocationStatus = "completed"
	InvocationFailed    InvocationStatus = "failed"
	InvocationTimeout   InvocationStatus = "timeout"
	InvocationCancelled InvocationStatus = "cancelled"
)

// Invocation records the state of one tool execution, independent of its
// final Result — used for tracing and for surfacing tool:start/tool:complete
// events to the agentic loop.
type Invocation struct {
	Call      ToolCall
	Status    InvocationStatus
	Result    *Result
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration returns how long the invocation ran, zero if it hasn't started.
func (i *Invocation) Duration() time.Duration {
	if i.StartedAt.IsZero() {
		return 0
	}
	end := i.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(i.StartedAt)
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// DefaultTimeout bounds a single tool call when the caller doesn't
	// supply a context deadline. Zero means no timeout is imposed here
	// (the caller's context still applies).
	DefaultTimeout time.Duration

	// CacheTTL enables result caching for CallableTool calls whose tool
	// doesn't require approval: a repeated call with identical arguments
	// within the TTL window is answered from cache instead of re-executed.
	// Zero disables caching entirely.
	CacheTTL time.Duration
}

// Executor runs a tool call against a registered Tool, validating arguments,
// enforcing a timeout, and reporting a well-defined lifecycle regardless of
// whether the tool is a CallableTool or a StreamingTool.
type Executor struct {
	registry *Registry
	cfg      ExecutorConfig
	schemas  *schemaCache
	cache    *ResultCache
}

// NewExecutor creates an Executor bound to registry.
func NewExecutor(registry *Registry, cfg ExecutorConfig) *Executor {
	return &Executor{
		registry: registry,
		cfg:      cfg,
		schemas:  newSchemaCache(),
		cache:    NewResultCache(cfg.CacheTTL),
	}
}

// ErrToolNotFound is returned when a call names a tool that isn't registered.
type ErrToolNotFound struct{ Name string }

func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("tool: no such tool %q", e.Name)
}

// ErrInvalidArguments is returned when call.Args fails the tool's schema.
type ErrInvalidArguments struct {
	Name string
	Err  error
}

func (e *ErrInvalidArguments) Error() string {
	return fmt.Sprintf("tool: invalid arguments for %q: %v", e.Name, e.Err)
}

func (e *ErrInvalidArguments) Unwrap() error { return e.Err }

// Execute runs a single blocking tool call to completion, validating args,
// applying the configured timeout, and returning a populated Invocation.
// The returned Invocation is never nil, even on error, so callers can always
// inspect Status/Duration for logging.
func (e *Executor) Execute(ctx Context, call ToolCall) *Invocation {
	inv := &Invocation{Call: call, Status: InvocationPending}

	t, ok := e.registry.Get(call.Name)
	if !ok {
		inv.Status = InvocationFailed
		inv.Err = &ErrToolNotFound{Name: call.Name}
		return inv
	}

	if err := e.validateArgs(t, call); err != nil {
		inv.Status = InvocationFailed
		inv.Err = err
		return inv
	}

	runCtx, cancel := e.withTimeout(ctx)
	defer cancel()

	inv.Status = InvocationExecuting
	inv.StartedAt = time.Now()

	switch impl := t.(type) {
	case CallableTool:
		cacheable := !impl.RequiresApproval()
		if cacheable {
			if cached, ok := e.cache.Get(call); ok {
				inv.EndedAt = time.Now()
				inv.Status = InvocationCompleted
				inv.Result = cached
				return inv
			}
		}
		data, err := impl.Call(wrapContext(ctx, runCtx), call.Args)
		inv.EndedAt = time.Now()
		e.finishBlocking(inv, data, err, runCtx)
		if cacheable && err == nil {
			e.cache.Put(call, inv.Result)
		}
	case StreamingTool:
		var last *Result
		var streamErr error
		for res, err := range impl.CallStreaming(wrapContext(ctx, runCtx), call.Args) {
			if err != nil {
				streamErr = err
				break
			}
			last = res
			if !res.Streaming {
				break
			}
		}
		inv.EndedAt = time.Now()
		e.finishStreaming(inv, last, streamErr, runCtx)
	default:
		inv.Status = InvocationFailed
		inv.Err = fmt.Errorf("tool: %q implements neither CallableTool nor StreamingTool", call.Name)
	}

	return inv
}

// ExecuteStreaming runs a StreamingTool call, yielding each intermediate
// Result as it arrives. Non-streaming tools are executed once and their
// single Result is yielded. The returned Invocation carries the terminal
// status; when yield returns false, iteration stops and Status is
// InvocationCancelled.
func (e *Executor) ExecuteStreaming(ctx Context, call ToolCall, yield func(*Result) bool) *Invocation {
	inv := &Invocation{Call: call, Status: InvocationPending}

	t, ok := e.registry.Get(call.Name)
	if !ok {
		inv.Status = InvocationFailed
		inv.Err = &ErrToolNotFound{Name: call.Name}
		return inv
	}
	if err := e.validateArgs(t, call); err != nil {
		inv.Status = InvocationFailed
		inv.Err = err
		return inv
	}

	runCtx, cancel := e.withTimeout(ctx)
	defer cancel()

	inv.Status = InvocationExecuting
	inv.StartedAt = time.Now()

	st, isStreaming := t.(StreamingTool)
	if !isStreaming {
		ct, ok := t.(CallableTool)
		if !ok {
			inv.Status = InvocationFailed
			inv.Err = fmt.Errorf("tool: %q implements neither CallableTool nor StreamingTool", call.Name)
			return inv
		}
		data, err := ct.Call(wrapContext(ctx, runCtx), call.Args)
		inv.EndedAt = time.Now()
		e.finishBlocking(inv, data, err, runCtx)
		if inv.Result != nil {
			yield(inv.Result)
		}
		return inv
	}

	cancelled := false
	for res, err := range st.CallStreaming(wrapContext(ctx, runCtx), call.Args) {
		if err != nil {
			inv.EndedAt = time.Now()
			inv.Status = statusForErr(err, runCtx)
			inv.Err = err
			return inv
		}
		inv.Result = res
		if !yield(res) {
			cancelled = true
			break
		}
	}
	inv.EndedAt = time.Now()
	if cancelled {
		inv.Status = InvocationCancelled
		return inv
	}
	inv.Status = InvocationCompleted
	return inv
}

func (e *Executor) finishBlocking(inv *Invocation, data map[string]any, err error, runCtx context.Context) {
	if err != nil {
		inv.Status = statusForErr(err, runCtx)
		inv.Err = err
		return
	}
	inv.Status = InvocationCompleted
	inv.Result = &Result{Content: data}
}

func (e *Executor) finishStreaming(inv *Invocation, last *Result, err error, runCtx context.Context) {
	if err != nil {
		inv.Status = statusForErr(err, runCtx)
		inv.Err = err
		return
	}
	inv.Status = InvocationCompleted
	inv.Result = last
}

func statusForErr(err error, runCtx context.Context) InvocationStatus {
	if runCtx.Err() == context.DeadlineExceeded {
		return InvocationTimeout
	}
	if runCtx.Err() == context.Canceled {
		return InvocationCancelled
	}
	return InvocationFailed
}

func (e *Executor) withTimeout(ctx Context) (context.Context, context.CancelFunc) {
	if e.cfg.DefaultTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.DefaultTimeout)
}

func (e *Executor) validateArgs(t Tool, call ToolCall) error {
	var schema map[string]any
	switch impl := t.(type) {
	case CallableTool:
		schema = impl.Schema()
	case StreamingTool:
		schema = impl.Schema()
	}
	if schema == nil {
		return nil
	}

	compiled, err := e.schemas.compile(call.Name, schema)
	if err != nil {
		// A malformed schema is a registration bug, not a caller error;
		// fail open rather than block every call to a misconfigured tool.
		return nil
	}
	var decoded any = map[string]any(call.Args)
	if err := compiled.Validate(decoded); err != nil {
		return &ErrInvalidArguments{Name: call.Name, Err: err}
	}
	return nil
}

// schemaCache compiles and caches JSON schemas per tool name so repeated
// calls to the same tool don't recompile the schema each time.
type schemaCache struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{compiled: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) compile(name string, schema map[string]any) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.compiled[name]; ok {
		return s, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	c.compiled[name] = compiled
	return compiled, nil
}

// wrapContext layers a derived context.Context (carrying the timeout) onto
// an existing tool.Context without discarding the rest of the interface.
func wrapContext(base Context, runCtx context.Context) Context {
	if runCtx == context.Context(base) {
		return base
	}
	return &timeoutContext{Context: base, ctx: runCtx}
}

type timeoutContext struct {
	Context
	ctx context.Context
}

func (t *timeoutContext) Deadline() (time.Time, bool) { return t.ctx.Deadline() }
func (t *timeoutContext) Done() <-chan struct{}        { return t.ctx.Done() }
func (t *timeoutContext) Err() error                   { return t.ctx.Err() }
func (t *timeoutContext) Value(key any) any            { return t.ctx.Value(key) }
