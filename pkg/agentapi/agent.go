package agentapi

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"

	"github.com/loomware/agentkit/pkg/agentloop"
	"github.com/loomware/agentkit/pkg/conductor"
	"github.com/loomware/agentkit/pkg/contextmgr"
)

// Config wires an Agent to the conductor it drives and the Store it
// persists through.
type Config struct {
	Conductor conductor.Config
	Manager   *contextmgr.Manager
	Store     Store

	// SessionID identifies the session for save/load. Generated if empty.
	SessionID string

	// AutoSave persists a Snapshot after every Chat/Stream turn. Save
	// errors during autosave are swallowed (logged), per spec.md §7's
	// SessionError policy; only an explicit Save surfaces the error.
	AutoSave bool

	// Metadata is carried through to every Snapshot verbatim.
	Metadata map[string]any
}

// Agent is the spec.md §6 Agent API: chat/stream plus the
// create/resume/pause/resume/cancel/destroy lifecycle, layered over a
// conductor.Conductor.
type Agent struct {
	cfg       Config
	cond      *conductor.Conductor
	sessionID string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Create builds a fresh Agent in ModeInteractive, per spec.md §6's
// create(config).
func Create(cfg Config) (*Agent, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("agentapi: Store is required")
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("agentapi: Manager is required")
	}
	cfg.Conductor.Manager = cfg.Manager

	cond, err := conductor.New(cfg.Conductor)
	if err != nil {
		return nil, fmt.Errorf("agentapi: build conductor: %w", err)
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	return &Agent{cfg: cfg, cond: cond, sessionID: sessionID}, nil
}

// Resume rehydrates an Agent from a previously saved session, per spec.md
// §6's resume(session_id, config). Unlike autosave, a failed load here
// surfaces directly: there is no prior state to silently fall back to.
func Resume(ctx context.Context, sessionID string, cfg Config) (*Agent, error) {
	cfg.SessionID = sessionID
	a, err := Create(cfg)
	if err != nil {
		return nil, err
	}

	snap, ok, err := a.cfg.Store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("agentapi: load session %q: %w", sessionID, err)
	}
	if !ok {
		return nil, fmt.Errorf("agentapi: no saved session %q to resume", sessionID)
	}
	if err := restoreSnapshot(snap, a.cfg.Manager, a.cond); err != nil {
		return nil, fmt.Errorf("agentapi: restore session %q: %w", sessionID, err)
	}
	return a, nil
}

// SessionID returns the session identifier this Agent saves/loads under.
func (a *Agent) SessionID() string { return a.sessionID }

// Mode returns the underlying conductor's current mode.
func (a *Agent) Mode() conductor.Mode { return a.cond.Mode() }

func (a *Agent) withCancel(ctx context.Context) (context.Context, func()) {
	turnCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	return turnCtx, func() {
		a.mu.Lock()
		a.cancel = nil
		a.mu.Unlock()
		cancel()
	}
}

// Chat is spec.md §6's chat(input) → UniversalResponse: one full turn,
// whatever mode transitions it triggers, returned as a single accumulated
// response.
func (a *Agent) Chat(ctx context.Context, input *a2a.Message) (*conductor.UniversalResponse, error) {
	turnCtx, done := a.withCancel(ctx)
	defer done()

	resp, err := a.cond.HandleInput(turnCtx, input)
	a.autoSave(ctx)
	return resp, err
}

// StreamEvent is one item of Stream's output: either an incremental text
// delta, or the final accumulated UniversalResponse for the turn.
type StreamEvent struct {
	TextDelta string
	Done      bool
	Response  *conductor.UniversalResponse
}

// Stream is spec.md §6's stream(input) → async events. When the turn is a
// plain ModeInteractive exchange that won't trigger a mode transition, it
// streams the underlying agentic loop's text deltas directly; any turn that
// would change conductor mode (plan generation, approval, execution,
// interrupts) is run to completion via Chat and surfaced as a single
// terminal event instead, since those transitions aren't incremental in
// nature — there's no partial plan to stream token-by-token.
func (a *Agent) Stream(ctx context.Context, input *a2a.Message) iter.Seq2[*StreamEvent, error] {
	return func(yield func(*StreamEvent, error) bool) {
		turnCtx, done := a.withCancel(ctx)
		defer done()

		if a.cond.Mode() == conductor.ModeInteractive {
			if intent := a.cond.Classify(contextmgr.TextOf(input)); intent != conductor.IntentComplex {
				resp, ok := a.streamInteractive(turnCtx, input, yield)
				if !ok {
					return
				}
				// This path bypasses HandleInput, so a start_planning
				// meta-tool call made during the turn just streamed would
				// otherwise sit unconsumed until the next unrelated
				// HandleInput call wrongly acts on it.
				if planResp, triggered, err := a.cond.ConsumeStartPlanning(turnCtx, input); triggered {
					a.autoSave(ctx)
					yield(&StreamEvent{Done: true, Response: planResp}, err)
					return
				}
				a.autoSave(ctx)
				yield(&StreamEvent{Done: true, Response: resp}, nil)
				return
			}
		}

		resp, err := a.cond.HandleInput(turnCtx, input)
		a.autoSave(ctx)
		yield(&StreamEvent{Done: true, Response: resp}, err)
	}
}

// streamInteractive drains one RunInteractiveStream turn, yielding each
// text delta as it arrives (or an iteration's whole text, when the
// provider sent no deltas for that iteration). The caller yields the terminal event itself
// (after first giving ConsumeStartPlanning a chance to replace it), except
// when ok is false: an error, a failed status, or the consumer stopping
// iteration early has already yielded its own terminal event, and the
// caller must return immediately without consulting ConsumeStartPlanning
// for a turn that never finished normally.
func (a *Agent) streamInteractive(ctx context.Context, input *a2a.Message, yield func(*StreamEvent, error) bool) (resp *conductor.UniversalResponse, ok bool) {
	// deltaIter is the last loop iteration whose text arrived as deltas;
	// that iteration's KindTextDone repeats the same text and is not
	// forwarded again.
	deltaIter := -1
	for ev, err := range a.cond.RunInteractiveStream(ctx, input) {
		if err != nil {
			yield(nil, err)
			return nil, false
		}
		switch ev.Kind {
		case agentloop.KindTextDelta:
			deltaIter = ev.Iter
			if !yield(&StreamEvent{TextDelta: ev.TextDelta}, nil) {
				return nil, false
			}
		case agentloop.KindTextDone:
			if ev.Iter == deltaIter {
				continue
			}
			if !yield(&StreamEvent{TextDelta: ev.TextDelta}, nil) {
				return nil, false
			}
		case agentloop.KindResponseComplete:
			if ev.Status == agentloop.StatusFailed {
				yield(nil, fmt.Errorf("agentapi: interactive stream turn failed"))
				return nil, false
			}
			return &conductor.UniversalResponse{Mode: conductor.ModeInteractive, Usage: ev.Usage}, true
		}
	}
	return nil, true
}

// Pause is spec.md §6's pause(): interrupt an in-progress plan execution
// without cancelling it.
func (a *Agent) Pause() (*conductor.UniversalResponse, error) {
	return a.cond.Pause()
}

// ResumeExecution is spec.md §6's in-process resume(): continue a paused
// plan execution. Distinct from the package-level Resume, which rehydrates
// an Agent from storage.
func (a *Agent) ResumeExecution(ctx context.Context) (*conductor.UniversalResponse, error) {
	turnCtx, done := a.withCancel(ctx)
	defer done()
	resp, err := a.cond.Resume(turnCtx)
	a.autoSave(ctx)
	return resp, err
}

// Cancel is spec.md §6's cancel(): abort any in-flight turn and return the
// conductor to ModeInteractive, cancelling the active plan if one exists.
func (a *Agent) Cancel() *conductor.UniversalResponse {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return a.cond.Cancel()
}

// Save explicitly persists the current session snapshot. Unlike autosave,
// a failure here is returned to the caller rather than logged and dropped.
func (a *Agent) Save(ctx context.Context) error {
	snap, err := buildSnapshot(a.cfg.Manager, a.cond, a.cfg.Metadata)
	if err != nil {
		return fmt.Errorf("agentapi: build snapshot: %w", err)
	}
	return a.cfg.Store.Save(ctx, a.sessionID, snap)
}

func (a *Agent) autoSave(ctx context.Context) {
	if !a.cfg.AutoSave {
		return
	}
	if err := a.Save(ctx); err != nil {
		slog.Warn("agentapi: autosave failed", "session_id", a.sessionID, "error", err)
	}
}

// Destroy is spec.md §6's destroy(): cancel any in-flight work and remove
// the persisted session entirely.
func (a *Agent) Destroy(ctx context.Context) error {
	a.Cancel()
	return a.cfg.Store.Delete(ctx, a.sessionID)
}
