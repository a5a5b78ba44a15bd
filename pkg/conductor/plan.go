package conductor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus tracks a PlanTask's lifecycle, mirroring pkg/task.State's
// submitted/working/terminal shape but specialized to plan execution.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether s admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskCancelled:
		return true
	}
	return false
}

// PlanTask is one node of a Plan's dependency DAG.
type PlanTask struct {
	ID          string
	Description string
	DependsOn   []string
	Status      TaskStatus
	Attempts    int
	MaxAttempts int
	Output      string
	Err         error
}

// PlanStatus tracks the plan as a whole.
type PlanStatus string

const (
	PlanPendingApproval PlanStatus = "pending_approval"
	PlanApproved        PlanStatus = "approved"
	PlanExecuting       PlanStatus = "executing"
	PlanCompleted       PlanStatus = "completed"
	PlanCancelled       PlanStatus = "cancelled"
)

// MutationOp names one of the four approved plan mutation kinds.
type MutationOp string

const (
	MutationAddTask    MutationOp = "add_task"
	MutationRemoveTask MutationOp = "remove_task"
	MutationSkipTask   MutationOp = "skip_task"
	MutationUpdateTask MutationOp = "update_task"
)

// MutationRecord is one entry of a Plan's audit trail.
type MutationRecord struct {
	At     time.Time
	Op     MutationOp
	TaskID string
	Detail string
}

// Plan is an ordered-with-dependencies list of tasks generated from a user
// goal. Cyclic graphs are represented as flat task slices plus string ids
// (DependsOn), never as back-pointer object webs, per the source's
// cyclic-graph design guidance — validity is checked once at creation and
// again after every mutation.
type Plan struct {
	ID        string
	Goal      string
	Tasks     []*PlanTask
	Status    PlanStatus
	CreatedAt time.Time
	Mutations []MutationRecord

	mu sync.RWMutex
}

// NewPlan builds a Plan from goal and tasks, validating the DAG before
// returning it. A cyclic dependency graph is rejected immediately rather
// than surfacing later during execution.
func NewPlan(goal string, tasks []*PlanTask) (*Plan, error) {
	for _, t := range tasks {
		if t.Status == "" {
			t.Status = TaskPending
		}
		if t.MaxAttempts <= 0 {
			t.MaxAttempts = 1
		}
	}

	p := &Plan{
		ID:        uuid.New().String(),
		Goal:      goal,
		Tasks:     tasks,
		Status:    PlanPendingApproval,
		CreatedAt: time.Now(),
	}
	if err := p.validateDAG(); err != nil {
		return nil, err
	}
	return p, nil
}

// ErrCyclicPlan is raised when a plan's depends_on edges form a cycle.
type ErrCyclicPlan struct{ TaskID string }

func (e *ErrCyclicPlan) Error() string {
	return fmt.Sprintf("conductor: cyclic dependency detected at task %q", e.TaskID)
}

// ErrUnknownDependency is raised when a task names a depends_on id that
// doesn't exist in the plan.
type ErrUnknownDependency struct {
	TaskID string
	DepID  string
}

func (e *ErrUnknownDependency) Error() string {
	return fmt.Sprintf("conductor: task %q depends on unknown task %q", e.TaskID, e.DepID)
}

// validateDAG implements the plan DAG law: for every task t, no path of
// depends_on edges returns to t. Must be called with mu held or before the
// plan is shared.
func (p *Plan) validateDAG() error {
	byID := make(map[string]*PlanTask, len(p.Tasks))
	for _, t := range p.Tasks {
		byID[t.ID] = t
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				return &ErrUnknownDependency{TaskID: t.ID, DepID: dep}
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(p.Tasks))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			return &ErrCyclicPlan{TaskID: id}
		}
		state[id] = visiting
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = visited
		return nil
	}

	for _, t := range p.Tasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}

// TaskProgress summarizes plan execution for UniversalResponse.TaskProgress.
type TaskProgress struct {
	Total      int
	Completed  int
	Failed     int
	Skipped    int
	InProgress int
	Pending    int
}

// Progress computes the current TaskProgress snapshot.
func (p *Plan) Progress() TaskProgress {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var tp TaskProgress
	tp.Total = len(p.Tasks)
	for _, t := range p.Tasks {
		switch t.Status {
		case TaskCompleted:
			tp.Completed++
		case TaskFailed:
			tp.Failed++
		case TaskSkipped, TaskCancelled:
			tp.Skipped++
		case TaskInProgress:
			tp.InProgress++
		default:
			tp.Pending++
		}
	}
	return tp
}

// AllTerminal reports whether every task has reached a terminal status.
func (p *Plan) AllTerminal() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.Tasks {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func (p *Plan) findLocked(id string) *PlanTask {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (p *Plan) recordLocked(op MutationOp, taskID, detail string) {
	p.Mutations = append(p.Mutations, MutationRecord{At: time.Now(), Op: op, TaskID: taskID, Detail: detail})
}

// AddTask appends a new pending task and re-validates the DAG, rolling the
// mutation back if it would introduce a cycle or dangling dependency.
func (p *Plan) AddTask(t *PlanTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = 1
	}
	t.Status = TaskPending

	before := p.Tasks
	p.Tasks = append(p.Tasks, t)
	if err := p.validateDAG(); err != nil {
		p.Tasks = before
		return err
	}
	p.recordLocked(MutationAddTask, t.ID, t.Description)
	return nil
}

// RemoveTask deletes a task outright. It refuses while any task that is
// neither skipped nor cancelled depends on it; a skipped or cancelled
// dependent keeps its dependency on the removed id.
func (p *Plan) RemoveTask(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i, t := range p.Tasks {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("conductor: no such task %q", id)
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if dep == id && t.Status != TaskSkipped && t.Status != TaskCancelled {
				return fmt.Errorf("conductor: cannot remove task %q: task %q depends on it", id, t.ID)
			}
		}
	}
	p.Tasks = append(p.Tasks[:idx], p.Tasks[idx+1:]...)
	p.recordLocked(MutationRemoveTask, id, "")
	return nil
}

// SkipTask marks a pending or in-progress task TaskSkipped without removing
// it from the DAG, so dependents keep a valid dependency edge. A dependent
// of a skipped task never becomes eligible: blockedPending reports it and
// execution skips it in turn.
func (p *Plan) SkipTask(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.findLocked(id)
	if t == nil {
		return fmt.Errorf("conductor: no such task %q", id)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("conductor: task %q already terminal (%s)", id, t.Status)
	}
	t.Status = TaskSkipped
	p.recordLocked(MutationSkipTask, id, "")
	return nil
}

// UpdateTask replaces a pending task's description and/or dependencies,
// re-validating the DAG. Tasks that are in progress or terminal cannot be
// updated.
func (p *Plan) UpdateTask(id string, description string, dependsOn []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.findLocked(id)
	if t == nil {
		return fmt.Errorf("conductor: no such task %q", id)
	}
	if t.Status != TaskPending {
		return fmt.Errorf("conductor: cannot update task %q in status %s", id, t.Status)
	}

	prevDesc, prevDeps := t.Description, t.DependsOn
	if description != "" {
		t.Description = description
	}
	if dependsOn != nil {
		t.DependsOn = dependsOn
	}
	if err := p.validateDAG(); err != nil {
		t.Description, t.DependsOn = prevDesc, prevDeps
		return err
	}
	p.recordLocked(MutationUpdateTask, id, t.Description)
	return nil
}

// Cancel marks the plan and every non-terminal task cancelled.
func (p *Plan) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Status = PlanCancelled
	for _, t := range p.Tasks {
		if !t.Status.IsTerminal() {
			t.Status = TaskCancelled
		}
	}
}

// eligibleTasks returns pending tasks whose dependencies are all
// TaskCompleted, in plan order (stable, deterministic scheduling).
func (p *Plan) eligibleTasks() []*PlanTask {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byID := make(map[string]*PlanTask, len(p.Tasks))
	for _, t := range p.Tasks {
		byID[t.ID] = t
	}

	var eligible []*PlanTask
	for _, t := range p.Tasks {
		if t.Status != TaskPending {
			continue
		}
		ready := true
		for _, dep := range t.DependsOn {
			if byID[dep].Status != TaskCompleted {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, t)
		}
	}
	return eligible
}

// beginTask marks t in_progress and bumps its attempt counter.
func (p *Plan) beginTask(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.findLocked(id)
	t.Status = TaskInProgress
	t.Attempts++
}

// finishTask records a task's terminal or retry outcome. On failure, if
// attempts remain under MaxAttempts the task is returned to TaskPending for
// another eligibleTasks pass; otherwise it's marked TaskFailed.
func (p *Plan) finishTask(id string, output string, taskErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.findLocked(id)
	if taskErr == nil {
		t.Status = TaskCompleted
		t.Output = output
		t.Err = nil
		return
	}
	t.Err = taskErr
	if t.Attempts < t.MaxAttempts {
		t.Status = TaskPending
		return
	}
	t.Status = TaskFailed
}

// blockedPending returns pending tasks that can never become eligible
// because a dependency failed, was skipped, or was cancelled.
func (p *Plan) blockedPending() []*PlanTask {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byID := make(map[string]*PlanTask, len(p.Tasks))
	for _, t := range p.Tasks {
		byID[t.ID] = t
	}

	var blocked []*PlanTask
	for _, t := range p.Tasks {
		if t.Status != TaskPending {
			continue
		}
		for _, dep := range t.DependsOn {
			d := byID[dep]
			if d.Status.IsTerminal() && d.Status != TaskCompleted {
				blocked = append(blocked, t)
				break
			}
		}
	}
	return blocked
}
