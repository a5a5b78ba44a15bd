package conductor

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/loomware/agentkit/pkg/agent"
	"github.com/loomware/agentkit/pkg/agentloop"
	"github.com/loomware/agentkit/pkg/contextmgr"
	"github.com/loomware/agentkit/pkg/model"
	"github.com/loomware/agentkit/pkg/tool"
)

// taskOutputBudget bounds how much of a completed task's output is folded
// into the prompt for tasks that depend on it, matching spec.md §4.5's
// "completed tasks' outputs (truncated to bounded size)".
const taskOutputBudget = 2000

// Config wires a Conductor to the rest of the runtime: the same
// Manager/Registry/Executor/LLM used by pkg/agentloop, since every mode
// ultimately drives one or more agentloop.Loop turns.
type Config struct {
	Manager     *contextmgr.Manager
	Registry    *tool.Registry
	Executor    *tool.Executor
	LLM         model.LLM
	ReadonlyCtx agent.ReadonlyContext
	ToolContext func(callID string) tool.Context

	// BasePredicate filters the tool set independent of conductor mode
	// (e.g. per-user permissions). May be nil.
	BasePredicate tool.Predicate

	// Planner builds a Plan from a goal. Defaults to TrivialPlanGenerator.
	Planner PlanGenerator

	// Classifier assigns an Intent to each raw utterance. Defaults to
	// HeuristicClassifier.
	Classifier Classifier

	// SkipApproval bypasses the planning→executing approval gate, going
	// straight to execution once a plan is generated. The zero value
	// (false) matches spec.md §4.5's default: planning requires an
	// explicit IntentApproval before executing begins.
	SkipApproval bool

	MaxIterations int
}

// Conductor is the C5 mode state machine: it owns the current Mode and
// pending/executing Plan, classifies each user turn, and drives C4
// (pkg/agentloop.Loop) for both direct interactive replies and per-task
// plan execution.
type Conductor struct {
	cfg Config

	mu       sync.Mutex
	mode     Mode
	plan     *Plan
	metaSeen map[string]map[string]any
}

// New builds a Conductor in ModeInteractive, registering the fixed
// meta-tool set into cfg.Registry.
func New(cfg Config) (*Conductor, error) {
	if cfg.Manager == nil || cfg.Registry == nil || cfg.Executor == nil || cfg.LLM == nil {
		return nil, fmt.Errorf("conductor: Manager, Registry, Executor, and LLM are required")
	}
	if cfg.Planner == nil {
		cfg.Planner = TrivialPlanGenerator{}
	}
	if cfg.Classifier == nil {
		cfg.Classifier = HeuristicClassifier{}
	}
	c := &Conductor{cfg: cfg, mode: ModeInteractive}
	if err := c.registerMetaTools(cfg.Registry); err != nil {
		return nil, err
	}
	return c, nil
}

// Mode returns the conductor's current state.
func (c *Conductor) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Plan returns the conductor's current plan, or nil if none exists.
func (c *Conductor) Plan() *Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan
}

// noteMetaCall records one meta-tool call by name, keyed independently of
// any other meta-tool called in the same turn — a model can call
// report_progress and start_planning in the same batch and both are kept
// until consumed, rather than the later call silently overwriting the
// earlier one.
func (c *Conductor) noteMetaCall(name string, args map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metaSeen == nil {
		c.metaSeen = make(map[string]map[string]any)
	}
	c.metaSeen[name] = args
}

// consumeMetaCall reports whether name was called as a meta-tool during the
// turn just run, clearing that entry in the same step so a stale value
// can't re-trigger the same transition on a later, unrelated turn. Other
// meta-tool names recorded in the same turn are left untouched.
func (c *Conductor) consumeMetaCall(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.metaSeen[name]; !ok {
		return false
	}
	delete(c.metaSeen, name)
	return true
}

// UniversalResponse is the conductor's reply shape, per spec.md §6's
// exposed Agent API.
type UniversalResponse struct {
	Text             string
	Mode             Mode
	Plan             *Plan
	PlanStatus       PlanStatus
	TaskProgress     *TaskProgress
	Usage            *model.Usage
	NeedsUserAction  bool
	UserActionType   string
}

// HandleInput is the conductor's single entry point for one user turn: it
// classifies the utterance, applies the transition table from spec.md
// §4.5, and drives whatever C4 work the new mode implies.
func (c *Conductor) HandleInput(ctx context.Context, input *a2a.Message) (*UniversalResponse, error) {
	text := contextmgr.TextOf(input)
	intent := c.cfg.Classifier.Classify(text)

	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	switch mode {
	case ModeInteractive:
		return c.handleInteractive(ctx, input, intent)
	case ModePlanning:
		return c.handlePlanning(ctx, intent)
	case ModeExecuting, ModeExecutingPaused:
		return c.handleExecuting(ctx, mode, intent)
	default:
		return nil, fmt.Errorf("conductor: unknown mode %q", mode)
	}
}

// handleInteractive runs the classifier's verdict for ModeInteractive: a
// complex utterance goes straight to planning. Anything else runs as a
// normal C4 turn first — but that turn's own tool calls may include
// start_planning (the model deciding mid-reply that the request needs a
// plan after all, independent of the classifier's heuristic), so the
// turn's meta-tool call is consulted afterward and can still trigger the
// same transition.
func (c *Conductor) handleInteractive(ctx context.Context, input *a2a.Message, intent Intent) (*UniversalResponse, error) {
	if intent != IntentComplex {
		resp, err := c.runInteractiveTurn(ctx, input)
		if err != nil {
			return resp, err
		}
		if planResp, triggered, err := c.ConsumeStartPlanning(ctx, input); triggered {
			if err != nil {
				return nil, err
			}
			if resp.Text != "" {
				planResp.Text = resp.Text
			}
			return planResp, nil
		}
		return resp, nil
	}
	return c.beginPlanning(ctx, input)
}

// ConsumeStartPlanning reports whether the turn just run called the
// start_planning meta-tool and, if so, performs the same mode transition
// handleInteractive would have: it both answers the question and carries
// out its effect in one call, since by the time a caller knows the answer
// is yes there is nothing left to decide. Callers that drive a turn
// without going through HandleInput (Agent.Stream's interactive fast path,
// which calls Conductor.RunInteractiveStream directly) must call this
// afterward themselves — otherwise a meta-tool call from that turn stays
// in metaSeen and is wrongly consumed by whatever unrelated turn calls
// HandleInput next.
func (c *Conductor) ConsumeStartPlanning(ctx context.Context, input *a2a.Message) (resp *UniversalResponse, triggered bool, err error) {
	if !c.consumeMetaCall("start_planning") {
		return nil, false, nil
	}
	// input was already committed to conversation history by the
	// interactive turn that just ran (the turn whose own tool call this
	// meta-call came from) — generatePlan, not beginPlanning, so it isn't
	// committed a second time.
	resp, err = c.generatePlan(ctx, contextmgr.TextOf(input))
	return resp, true, err
}

// beginPlanning commits input as the turn that triggered planning, then
// generates a plan for its text and transitions out of ModeInteractive.
// Only for the IntentComplex path, where no turn has run yet and nothing
// has committed input to history.
func (c *Conductor) beginPlanning(ctx context.Context, input *a2a.Message) (*UniversalResponse, error) {
	// "user input is committed first" — the Context Manager records the
	// goal as the current turn before the mode transition, so the
	// conversation history reflects the request that triggered planning
	// even though no assistant reply accompanies it yet.
	c.cfg.Manager.SetCurrentInput(input)
	c.cfg.Manager.CommitTurn(nil)
	return c.generatePlan(ctx, contextmgr.TextOf(input))
}

// generatePlan runs the planner against goal and transitions out of
// ModeInteractive; it performs no conversation-history bookkeeping of its
// own, since its two callers commit (or have already committed) input
// under different circumstances.
func (c *Conductor) generatePlan(ctx context.Context, goal string) (*UniversalResponse, error) {
	plan, err := c.cfg.Planner.Generate(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("conductor: generate plan: %w", err)
	}

	c.mu.Lock()
	c.plan = plan
	if c.cfg.SkipApproval {
		c.mode = ModeExecuting
		plan.mu.Lock()
		plan.Status = PlanExecuting
		plan.mu.Unlock()
	} else {
		c.mode = ModePlanning
	}
	c.mu.Unlock()

	if c.cfg.SkipApproval {
		return c.runExecution(ctx)
	}
	return &UniversalResponse{
		Mode:            ModePlanning,
		Plan:            plan,
		PlanStatus:      PlanPendingApproval,
		NeedsUserAction: true,
		UserActionType:  "plan_approval",
	}, nil
}

// Classify exposes the configured Classifier so Agent-API callers can decide
// whether a streaming, loop-only turn is possible (ModeInteractive and a
// non-IntentComplex utterance) without duplicating the classification the
// next HandleInput call will do anyway.
func (c *Conductor) Classify(utterance string) Intent {
	return c.cfg.Classifier.Classify(utterance)
}

// RunInteractiveStream drives one ModeInteractive turn directly through C4
// and returns its raw event stream, for callers that want incremental text
// rather than HandleInput's accumulated UniversalResponse. It performs no
// mode bookkeeping of its own — correct only when the caller has already
// confirmed (via Classify) that this utterance wouldn't trigger a mode
// transition, since a complex utterance handled this way would skip plan
// generation entirely.
func (c *Conductor) RunInteractiveStream(ctx context.Context, input *a2a.Message) iter.Seq2[*agentloop.Event, error] {
	loop, err := agentloop.New(agentloop.Config{
		Manager:       c.cfg.Manager,
		Registry:      c.cfg.Registry,
		Executor:      c.cfg.Executor,
		LLM:           c.cfg.LLM,
		ReadonlyCtx:   c.cfg.ReadonlyCtx,
		Predicate:     c.cfg.BasePredicate,
		ToolContext:   c.cfg.ToolContext,
		MaxIterations: c.cfg.MaxIterations,
		Streaming:     true,
	})
	if err != nil {
		return func(yield func(*agentloop.Event, error) bool) { yield(nil, err) }
	}
	return loop.Run(ctx, input)
}

func (c *Conductor) runInteractiveTurn(ctx context.Context, input *a2a.Message) (*UniversalResponse, error) {
	loop, err := agentloop.New(agentloop.Config{
		Manager:       c.cfg.Manager,
		Registry:      c.cfg.Registry,
		Executor:      c.cfg.Executor,
		LLM:           c.cfg.LLM,
		ReadonlyCtx:   c.cfg.ReadonlyCtx,
		Predicate:     c.cfg.BasePredicate,
		ToolContext:   c.cfg.ToolContext,
		MaxIterations: c.cfg.MaxIterations,
	})
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	var usage *model.Usage
	var status agentloop.FinishStatus
	for ev, err := range loop.Run(ctx, input) {
		if err != nil {
			return nil, err
		}
		switch ev.Kind {
		case agentloop.KindTextDone:
			text.WriteString(ev.TextDelta)
		case agentloop.KindResponseComplete:
			status = ev.Status
			if ev.Usage != nil {
				usage = ev.Usage
			}
		}
	}

	resp := &UniversalResponse{Text: text.String(), Mode: ModeInteractive, Usage: usage}
	if status == agentloop.StatusFailed {
		return resp, fmt.Errorf("conductor: interactive turn failed")
	}
	return resp, nil
}

func (c *Conductor) handlePlanning(ctx context.Context, intent Intent) (*UniversalResponse, error) {
	c.mu.Lock()
	plan := c.plan
	c.mu.Unlock()
	if plan == nil {
		return nil, fmt.Errorf("conductor: no pending plan in planning mode")
	}

	switch intent {
	case IntentApproval:
		c.mu.Lock()
		c.mode = ModeExecuting
		plan.mu.Lock()
		plan.Status = PlanExecuting
		plan.mu.Unlock()
		c.mu.Unlock()
		return c.runExecution(ctx)

	case IntentRejection, IntentPlanModify, IntentFeedback:
		goal := plan.Goal
		refined, err := c.cfg.Planner.Generate(ctx, goal)
		if err != nil {
			return nil, fmt.Errorf("conductor: refine plan: %w", err)
		}
		c.mu.Lock()
		c.plan = refined
		c.mu.Unlock()
		return &UniversalResponse{
			Mode:            ModePlanning,
			Plan:            refined,
			PlanStatus:      PlanPendingApproval,
			NeedsUserAction: true,
			UserActionType:  "plan_approval",
		}, nil

	default:
		plan.Cancel()
		c.mu.Lock()
		c.mode = ModeInteractive
		c.mu.Unlock()
		return &UniversalResponse{Mode: ModeInteractive, Plan: plan, PlanStatus: PlanCancelled}, nil
	}
}

func (c *Conductor) handleExecuting(ctx context.Context, mode Mode, intent Intent) (*UniversalResponse, error) {
	c.mu.Lock()
	plan := c.plan
	c.mu.Unlock()
	if plan == nil {
		return nil, fmt.Errorf("conductor: no active plan in executing mode")
	}

	switch intent {
	case IntentInterrupt:
		c.mu.Lock()
		c.mode = ModeExecutingPaused
		c.mu.Unlock()
		progress := plan.Progress()
		return &UniversalResponse{Mode: ModeExecutingPaused, Plan: plan, TaskProgress: &progress, NeedsUserAction: true, UserActionType: "resume_or_cancel"}, nil

	case IntentRejection:
		plan.Cancel()
		c.mu.Lock()
		c.mode = ModeInteractive
		c.mu.Unlock()
		return &UniversalResponse{Mode: ModeInteractive, Plan: plan, PlanStatus: PlanCancelled}, nil

	case IntentStatusQuery:
		progress := plan.Progress()
		return &UniversalResponse{Mode: mode, Plan: plan, TaskProgress: &progress}, nil

	case IntentPlanModify:
		// Mutation application is driven by ApplyMutation, called by the
		// caller with the parsed mutation; HandleInput just reports the
		// current state back so the caller knows where things stand.
		progress := plan.Progress()
		return &UniversalResponse{Mode: mode, Plan: plan, TaskProgress: &progress}, nil

	default:
		progress := plan.Progress()
		return &UniversalResponse{Mode: mode, Plan: plan, TaskProgress: &progress}, nil
	}
}

// RestoreState sets the conductor's mode and plan directly, bypassing the
// classifier and transition table entirely. Used only when rehydrating a
// Conductor from a session snapshot (the Agent API's resume(session_id,
// config)); the restored mode and plan are assumed already valid as saved.
func (c *Conductor) RestoreState(mode Mode, plan *Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	c.plan = plan
}

// Resume transitions ModeExecutingPaused back to ModeExecuting and
// continues running eligible tasks. It is an explicit lifecycle call
// (spec.md §6's Agent API resume()), not something the intent classifier
// drives directly.
func (c *Conductor) Resume(ctx context.Context) (*UniversalResponse, error) {
	c.mu.Lock()
	if c.mode != ModeExecutingPaused {
		c.mu.Unlock()
		return nil, fmt.Errorf("conductor: Resume called outside executing_paused (mode=%s)", c.mode)
	}
	c.mode = ModeExecuting
	c.mu.Unlock()
	return c.runExecution(ctx)
}

// Pause is the explicit lifecycle counterpart of an IntentInterrupt
// utterance.
func (c *Conductor) Pause() (*UniversalResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeExecuting {
		return nil, fmt.Errorf("conductor: Pause called outside executing (mode=%s)", c.mode)
	}
	c.mode = ModeExecutingPaused
	plan := c.plan
	var progress *TaskProgress
	if plan != nil {
		p := plan.Progress()
		progress = &p
	}
	return &UniversalResponse{Mode: ModeExecutingPaused, Plan: plan, TaskProgress: progress}, nil
}

// Cancel implements the "any, cancel, interactive" transition: from any
// mode, mark the plan cancelled (if one exists) and return to interactive.
func (c *Conductor) Cancel() *UniversalResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plan != nil {
		c.plan.Cancel()
	}
	c.mode = ModeInteractive
	return &UniversalResponse{Mode: ModeInteractive, Plan: c.plan}
}

// ApplyMutation applies one of the four approved plan mutations, usable
// both while planning (refining before approval) and while executing
// (pausing, mutating, then the caller re-invokes Resume/runExecution).
func (c *Conductor) ApplyMutation(op MutationOp, task *PlanTask, targetID, description string, dependsOn []string) error {
	c.mu.Lock()
	plan := c.plan
	c.mu.Unlock()
	if plan == nil {
		return fmt.Errorf("conductor: no plan to mutate")
	}
	switch op {
	case MutationAddTask:
		if task == nil {
			return fmt.Errorf("conductor: add_task requires a task")
		}
		return plan.AddTask(task)
	case MutationRemoveTask:
		return plan.RemoveTask(targetID)
	case MutationSkipTask:
		return plan.SkipTask(targetID)
	case MutationUpdateTask:
		return plan.UpdateTask(targetID, description, dependsOn)
	default:
		return fmt.Errorf("conductor: unknown mutation op %q", op)
	}
}

// runExecution iterates eligible tasks in dependency order until no more
// progress is possible, each via its own agentloop.Loop turn built with
// ExecutionPredicate so the execution-mode agent never sees meta-tools.
func (c *Conductor) runExecution(ctx context.Context) (*UniversalResponse, error) {
	c.mu.Lock()
	plan := c.plan
	c.mu.Unlock()

	for {
		c.mu.Lock()
		paused := c.mode == ModeExecutingPaused
		c.mu.Unlock()
		if paused {
			progress := plan.Progress()
			return &UniversalResponse{Mode: ModeExecutingPaused, Plan: plan, TaskProgress: &progress}, nil
		}

		if ctx.Err() != nil {
			progress := plan.Progress()
			return &UniversalResponse{Mode: ModeExecuting, Plan: plan, TaskProgress: &progress}, ctx.Err()
		}

		eligible := plan.eligibleTasks()
		if len(eligible) == 0 {
			for _, t := range plan.blockedPending() {
				plan.SkipTask(t.ID)
			}
			if plan.AllTerminal() {
				break
			}
			if len(plan.eligibleTasks()) == 0 {
				// No task is runnable and none became newly blocked either;
				// avoid spinning forever on a plan that can't make progress.
				break
			}
			continue
		}

		// eligibleTasks excludes anything with an unsatisfied dependency, so
		// tasks within one batch have no ordering constraint between them —
		// but each still runs its agentloop.Loop against the one shared
		// c.cfg.Manager (SetCurrentInput/Prepare/CommitTurn), and Manager
		// isn't built for concurrent turns against the same conversation.
		// Running this batch sequentially is what keeps that conversation
		// state coherent; it's a Manager-sharing constraint, not a Plan
		// one (Plan's own accessors are already safe for concurrent use).
		for _, t := range eligible {
			c.runTask(ctx, plan, t)
		}

		if plan.AllTerminal() {
			break
		}
	}

	plan.mu.Lock()
	plan.Status = PlanCompleted
	plan.mu.Unlock()

	c.mu.Lock()
	c.mode = ModeInteractive
	c.mu.Unlock()

	progress := plan.Progress()
	summary := summarizeCompletedTasks(plan)
	return &UniversalResponse{Text: summary, Mode: ModeInteractive, Plan: plan, PlanStatus: PlanCompleted, TaskProgress: &progress}, nil
}

// runTask drives one task through C4, respecting max_attempts by returning
// the task to pending (via Plan.finishTask) rather than retrying inline —
// the next eligibleTasks pass will pick it back up alongside any
// newly-unblocked siblings.
func (c *Conductor) runTask(ctx context.Context, plan *Plan, t *PlanTask) {
	plan.beginTask(t.ID)

	loop, err := agentloop.New(agentloop.Config{
		Manager:       c.cfg.Manager,
		Registry:      c.cfg.Registry,
		Executor:      c.cfg.Executor,
		LLM:           c.cfg.LLM,
		ReadonlyCtx:   c.cfg.ReadonlyCtx,
		Predicate:     ExecutionPredicate(c.cfg.BasePredicate),
		ToolContext:   c.cfg.ToolContext,
		MaxIterations: c.cfg.MaxIterations,
	})
	if err != nil {
		plan.finishTask(t.ID, "", err)
		return
	}

	prompt := buildTaskPrompt(plan, t)
	input := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: prompt})

	var text strings.Builder
	var status agentloop.FinishStatus
	for ev, err := range loop.Run(ctx, input) {
		if err != nil {
			plan.finishTask(t.ID, "", err)
			return
		}
		switch ev.Kind {
		case agentloop.KindTextDone:
			text.WriteString(ev.TextDelta)
		case agentloop.KindResponseComplete:
			status = ev.Status
		}
	}

	if status == agentloop.StatusFailed {
		plan.finishTask(t.ID, "", fmt.Errorf("task %q: agent turn failed", t.ID))
		return
	}
	plan.finishTask(t.ID, text.String(), nil)
}

// buildTaskPrompt assembles the overall goal plus completed tasks' outputs,
// each truncated to taskOutputBudget, per spec.md §4.5's execution rule.
func buildTaskPrompt(plan *Plan, t *PlanTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall goal: %s\n\n", plan.Goal)
	fmt.Fprintf(&b, "Your task: %s\n", t.Description)

	plan.mu.RLock()
	defer plan.mu.RUnlock()
	var deps []string
	for _, dep := range t.DependsOn {
		for _, other := range plan.Tasks {
			if other.ID == dep && other.Status == TaskCompleted {
				out := other.Output
				if len(out) > taskOutputBudget {
					out = contextmgr.TruncateToRuneBoundary(out, taskOutputBudget) + "...[truncated]"
				}
				deps = append(deps, fmt.Sprintf("- %s: %s", other.ID, out))
			}
		}
	}
	if len(deps) > 0 {
		b.WriteString("\nCompleted dependency outputs:\n")
		b.WriteString(strings.Join(deps, "\n"))
	}
	return b.String()
}

func summarizeCompletedTasks(plan *Plan) string {
	plan.mu.RLock()
	defer plan.mu.RUnlock()
	var b strings.Builder
	b.WriteString("Plan complete.\n")
	for _, t := range plan.Tasks {
		fmt.Fprintf(&b, "- %s (%s)\n", t.ID, t.Status)
	}
	return b.String()
}
