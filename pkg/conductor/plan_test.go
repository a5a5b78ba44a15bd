package conductor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomware/agentkit/pkg/conductor"
)

func TestNewPlanRejectsCyclicDependency(t *testing.T) {
	_, err := conductor.NewPlan("goal", []*conductor.PlanTask{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	})
	require.Error(t, err)
	var cyclic *conductor.ErrCyclicPlan
	assert.ErrorAs(t, err, &cyclic)
}

func TestNewPlanRejectsUnknownDependency(t *testing.T) {
	_, err := conductor.NewPlan("goal", []*conductor.PlanTask{
		{ID: "a", DependsOn: []string{"missing"}},
	})
	require.Error(t, err)
	var unknown *conductor.ErrUnknownDependency
	assert.ErrorAs(t, err, &unknown)
}

func TestNewPlanAcceptsValidDAG(t *testing.T) {
	plan, err := conductor.NewPlan("goal", []*conductor.PlanTask{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, conductor.PlanPendingApproval, plan.Status)
}

func TestPlanAddTaskRejectsUnknownDependency(t *testing.T) {
	plan, err := conductor.NewPlan("goal", []*conductor.PlanTask{{ID: "a"}})
	require.NoError(t, err)

	err = plan.AddTask(&conductor.PlanTask{ID: "b", DependsOn: []string{"does-not-exist"}})
	assert.Error(t, err)
	assert.Len(t, plan.Tasks, 1, "rejected mutation must not leave a partial task behind")
}

func TestPlanAddTaskSucceeds(t *testing.T) {
	plan, err := conductor.NewPlan("goal", []*conductor.PlanTask{{ID: "a"}})
	require.NoError(t, err)

	require.NoError(t, plan.AddTask(&conductor.PlanTask{ID: "b", DependsOn: []string{"a"}}))
	assert.Len(t, plan.Tasks, 2)
	assert.Len(t, plan.Mutations, 1)
	assert.Equal(t, conductor.MutationAddTask, plan.Mutations[0].Op)
}

func TestPlanRemoveTaskRejectedWhenDependedOn(t *testing.T) {
	plan, err := conductor.NewPlan("goal", []*conductor.PlanTask{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	err = plan.RemoveTask("a")
	assert.Error(t, err)
}

func TestPlanSkipTaskMarksTaskSkipped(t *testing.T) {
	plan, err := conductor.NewPlan("goal", []*conductor.PlanTask{
		{ID: "a", MaxAttempts: 1},
		{ID: "b", DependsOn: []string{"a"}, MaxAttempts: 1},
	})
	require.NoError(t, err)

	require.NoError(t, plan.SkipTask("a"))
	assert.Equal(t, conductor.TaskSkipped, plan.Tasks[0].Status)
}

func TestPlanUpdateTaskRejectsNonPending(t *testing.T) {
	plan, err := conductor.NewPlan("goal", []*conductor.PlanTask{{ID: "a"}})
	require.NoError(t, err)
	require.NoError(t, plan.SkipTask("a"))

	err = plan.UpdateTask("a", "new description", nil)
	assert.Error(t, err)
}

func TestPlanCancelMarksAllNonTerminalCancelled(t *testing.T) {
	plan, err := conductor.NewPlan("goal", []*conductor.PlanTask{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)

	plan.Cancel()
	assert.Equal(t, conductor.PlanCancelled, plan.Status)
	for _, task := range plan.Tasks {
		assert.Equal(t, conductor.TaskCancelled, task.Status)
	}
}

func TestPlanProgressCounts(t *testing.T) {
	plan, err := conductor.NewPlan("goal", []*conductor.PlanTask{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	require.NoError(t, plan.SkipTask("b"))

	progress := plan.Progress()
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 1, progress.Pending)
	assert.Equal(t, 1, progress.Skipped)
}
