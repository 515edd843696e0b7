package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store/memstore"
	"github.com/kandev/agentcore/internal/workflow/engine"
)

type noopRuntime struct{}

func (noopRuntime) RunTool(ctx context.Context, exec *models.WorkflowExecution, step engine.Step) (map[string]any, error) {
	return nil, nil
}
func (noopRuntime) SendAgentMessage(ctx context.Context, exec *models.WorkflowExecution, step engine.Step) (string, error) {
	return "", nil
}
func (noopRuntime) RunSub(ctx context.Context, parent *models.WorkflowExecution, step engine.Step) error {
	return nil
}
func (noopRuntime) ResetAgentContext(ctx context.Context, exec *models.WorkflowExecution, step engine.Step) error {
	return nil
}

// TestRegistry_RunDrivesExecutionToCompletion confirms CreateExecution+Run
// round-trips through the store exactly like calling the engine directly.
func TestRegistry_RunDrivesExecutionToCompletion(t *testing.T) {
	st := memstore.New()
	eng := engine.New(st, logger.Default())
	reg := NewRegistry(st, eng)

	wf := &models.Workflow{ID: "wf_1", Slug: "s", CurrentHash: "sha256:H", CurrentVersion: 1}
	require.NoError(t, st.CreateWorkflow(context.Background(), wf))

	exec, err := reg.CreateExecution(context.Background(), wf.ID, wf.CurrentHash, "manual", nil)
	require.NoError(t, err)

	def := &engine.Definition{Steps: []engine.Step{{ID: "a", Type: "tool", Tool: "x"}}}
	result, err := reg.Run(context.Background(), exec.ID, def, noopRuntime{}, wf.CurrentHash, wf.CurrentHash)
	require.NoError(t, err)
	assert.Equal(t, models.ExecSucceeded, result.Status)
}

// TestRegistry_SerializesConcurrentCallsPerExecution confirms two
// concurrent Run calls for the SAME execution id never interleave: the
// second observes the first's terminal state instead of racing it.
func TestRegistry_SerializesConcurrentCallsPerExecution(t *testing.T) {
	st := memstore.New()
	eng := engine.New(st, logger.Default())
	reg := NewRegistry(st, eng)

	wf := &models.Workflow{ID: "wf_1", Slug: "s", CurrentHash: "sha256:H", CurrentVersion: 1}
	require.NoError(t, st.CreateWorkflow(context.Background(), wf))
	exec, err := reg.CreateExecution(context.Background(), wf.ID, wf.CurrentHash, "manual", nil)
	require.NoError(t, err)

	def := &engine.Definition{Steps: []engine.Step{{ID: "a", Type: "tool", Tool: "x"}}}

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = reg.Run(context.Background(), exec.ID, def, noopRuntime{}, wf.CurrentHash, wf.CurrentHash)
		}(i)
	}
	wg.Wait()

	final, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecSucceeded, final.Status)
}
