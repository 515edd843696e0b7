package taskboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store/memstore"
)

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	return New(memstore.New(), logger.Default())
}

func TestCreateTask_NoDependenciesStartsPending(t *testing.T) {
	b := newTestBoard(t)
	task, err := b.CreateTask(context.Background(), CreateTaskInput{
		OrchestratorSessionID: "orch-1",
		Title:                 "root task",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
}

func TestCreateTask_WithUnmetDependencyStartsBlocked(t *testing.T) {
	b := newTestBoard(t)
	dep, err := b.CreateTask(context.Background(), CreateTaskInput{OrchestratorSessionID: "orch-1", Title: "dep"})
	require.NoError(t, err)

	task, err := b.CreateTask(context.Background(), CreateTaskInput{
		OrchestratorSessionID: "orch-1",
		Title:                 "dependent",
		DependsOn:             []string{dep.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskBlocked, task.Status)
}

func TestCreateTask_RejectsCycle(t *testing.T) {
	b := newTestBoard(t)
	a, err := b.CreateTask(context.Background(), CreateTaskInput{OrchestratorSessionID: "orch-1", Title: "a"})
	require.NoError(t, err)
	bTask, err := b.CreateTask(context.Background(), CreateTaskInput{
		OrchestratorSessionID: "orch-1", Title: "b", DependsOn: []string{a.ID},
	})
	require.NoError(t, err)

	// b already depends on a, so an edge a -> b would close a cycle.
	reaches, err := canReach(context.Background(), b.store, bTask.ID, a.ID, 0)
	require.NoError(t, err)
	assert.True(t, reaches)
}

func TestUpdateTask_CompletingCascadesUnblocksDependent(t *testing.T) {
	b := newTestBoard(t)
	dep, err := b.CreateTask(context.Background(), CreateTaskInput{OrchestratorSessionID: "orch-1", Title: "dep"})
	require.NoError(t, err)
	dependent, err := b.CreateTask(context.Background(), CreateTaskInput{
		OrchestratorSessionID: "orch-1", Title: "dependent", DependsOn: []string{dep.ID},
	})
	require.NoError(t, err)
	require.Equal(t, models.TaskBlocked, dependent.Status)

	_, err = b.UpdateTask(context.Background(), UpdateTaskInput{ID: dep.ID, Status: models.TaskInProgress})
	require.NoError(t, err)
	_, err = b.UpdateTask(context.Background(), UpdateTaskInput{ID: dep.ID, Status: models.TaskCompleted})
	require.NoError(t, err)

	refreshed, err := b.store.GetTask(context.Background(), dependent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, refreshed.Status)
}

func TestUpdateTask_RejectsInvalidTransition(t *testing.T) {
	b := newTestBoard(t)
	task, err := b.CreateTask(context.Background(), CreateTaskInput{OrchestratorSessionID: "orch-1", Title: "t"})
	require.NoError(t, err)

	_, err = b.UpdateTask(context.Background(), UpdateTaskInput{ID: task.ID, Status: models.TaskInProgress})
	require.NoError(t, err)
	_, err = b.UpdateTask(context.Background(), UpdateTaskInput{ID: task.ID, Status: models.TaskCompleted})
	require.NoError(t, err)

	_, err = b.UpdateTask(context.Background(), UpdateTaskInput{ID: task.ID, Status: models.TaskPending})
	require.Error(t, err)
}

func TestListTasks_OrderedByCreatedAtThenID(t *testing.T) {
	b := newTestBoard(t)
	for i := 0; i < 3; i++ {
		_, err := b.CreateTask(context.Background(), CreateTaskInput{OrchestratorSessionID: "orch-1", Title: "t"})
		require.NoError(t, err)
	}
	tasks, err := b.ListTasks(context.Background(), "orch-1", "")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i := 1; i < len(tasks); i++ {
		assert.True(t, tasks[i-1].CreatedAt.Before(tasks[i].CreatedAt) || tasks[i-1].CreatedAt.Equal(tasks[i].CreatedAt))
	}
}
