package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store/memstore"
)

// fakeRuntime is a test double for Runtime: every tool/agent_message/sub
// call succeeds unless the caller pre-seeds a failure for that step id.
type fakeRuntime struct {
	toolFailures map[string]error
	toolCalls    []string
}

func (f *fakeRuntime) RunTool(ctx context.Context, exec *models.WorkflowExecution, step Step) (map[string]any, error) {
	f.toolCalls = append(f.toolCalls, step.ID)
	if err := f.toolFailures[step.ID]; err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (f *fakeRuntime) SendAgentMessage(ctx context.Context, exec *models.WorkflowExecution, step Step) (string, error) {
	return "ack", nil
}

func (f *fakeRuntime) RunSub(ctx context.Context, parent *models.WorkflowExecution, step Step) error {
	return nil
}

func (f *fakeRuntime) ResetAgentContext(ctx context.Context, exec *models.WorkflowExecution, step Step) error {
	return nil
}

func newTestExec(t *testing.T, st *memstore.Store, hash string) *models.WorkflowExecution {
	t.Helper()
	exec := &models.WorkflowExecution{
		ID:           "ex_1",
		WorkflowID:   "wf_1",
		WorkflowHash: hash,
		Status:       models.ExecQueued,
	}
	require.NoError(t, st.CreateExecution(context.Background(), exec))
	return exec
}

// TestRun_ApprovalGateHappyPath covers spec scenario S1: lint runs, the
// approval gate suspends with a resume token, and Resume("approve")
// advances to deploy.
func TestRun_ApprovalGateHappyPath(t *testing.T) {
	st := memstore.New()
	eng := New(st, logger.Default())
	rt := &fakeRuntime{}

	def := &Definition{Steps: []Step{
		{ID: "lint", Type: string(StepTool), Tool: "npm_lint"},
		{ID: "approve", Type: string(StepApproval), Prompt: "Ship?"},
		{ID: "deploy", Type: string(StepTool), Tool: "deploy"},
	}}

	exec := newTestExec(t, st, "sha256:H")
	result, err := eng.Run(context.Background(), exec, def, rt, "sha256:H", "sha256:H")
	require.NoError(t, err)
	assert.Equal(t, models.ExecNeedsApproval, result.Status)
	assert.NotEmpty(t, result.ResumeToken)
	assert.True(t, result.RequiresApproval)

	traces, err := st.ListStepTraces(context.Background(), exec.ID, 500)
	require.NoError(t, err)
	byStep := map[string]models.StepTraceStatus{}
	for _, tr := range traces {
		byStep[tr.StepID] = tr.Status
	}
	assert.Equal(t, models.StepSucceeded, byStep["lint"])
	assert.Equal(t, models.StepAwaiting, byStep["approve"])
	assert.NotContains(t, byStep, "deploy")

	resumed, err := eng.Resume(context.Background(), result, def, rt, result.ResumeToken, "approve", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecSucceeded, resumed.Status)
	assert.Contains(t, rt.toolCalls, "deploy")
}

// TestRun_HashMismatchRejected covers spec scenario S2: a caller-supplied
// hash that doesn't match the current workflow hash fails with
// HASH_MISMATCH and writes no StepTrace rows.
func TestRun_HashMismatchRejected(t *testing.T) {
	st := memstore.New()
	eng := New(st, logger.Default())
	rt := &fakeRuntime{}

	def := &Definition{Steps: []Step{{ID: "lint", Type: string(StepTool), Tool: "npm_lint"}}}
	exec := newTestExec(t, st, "sha256:H")

	_, err := eng.Run(context.Background(), exec, def, rt, "sha256:deadbeef", "sha256:H")
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.HashMismatch))

	traces, err := st.ListStepTraces(context.Background(), exec.ID, 500)
	require.NoError(t, err)
	assert.Empty(t, traces)
}

// TestResume_WrongTokenRejected covers testable property §8.5: presenting
// any token other than the one persisted on the execution fails.
func TestResume_WrongTokenRejected(t *testing.T) {
	st := memstore.New()
	eng := New(st, logger.Default())
	rt := &fakeRuntime{}

	def := &Definition{Steps: []Step{{ID: "approve", Type: string(StepApproval)}}}
	exec := newTestExec(t, st, "sha256:H")
	result, err := eng.Run(context.Background(), exec, def, rt, "sha256:H", "sha256:H")
	require.NoError(t, err)

	_, err = eng.Resume(context.Background(), result, def, rt, "wrong-token", "approve", nil)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.InvalidToken))
}

// TestResume_Deny cancels the execution and records the reason.
func TestResume_Deny(t *testing.T) {
	st := memstore.New()
	eng := New(st, logger.Default())
	rt := &fakeRuntime{}

	def := &Definition{Steps: []Step{
		{ID: "approve", Type: string(StepApproval)},
		{ID: "deploy", Type: string(StepTool), Tool: "deploy"},
	}}
	exec := newTestExec(t, st, "sha256:H")
	result, err := eng.Run(context.Background(), exec, def, rt, "sha256:H", "sha256:H")
	require.NoError(t, err)

	resumed, err := eng.Resume(context.Background(), result, def, rt, result.ResumeToken, "deny", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecCancelled, resumed.Status)
	assert.NotContains(t, rt.toolCalls, "deploy")
}

// TestRun_ToolRetryExhaustion confirms a failing tool step that exhausts
// its retries fails the execution, with one trace attempt per try.
func TestRun_ToolRetryExhaustion(t *testing.T) {
	st := memstore.New()
	eng := New(st, logger.Default())
	rt := &fakeRuntime{toolFailures: map[string]error{"flaky": assertErr{"boom"}}}

	def := &Definition{Steps: []Step{
		{ID: "flaky", Type: string(StepTool), Tool: "flaky_tool", Retry: &RetrySpec{Attempts: 3, BackoffMs: 0}},
	}}
	exec := newTestExec(t, st, "sha256:H")

	_, err := eng.Run(context.Background(), exec, def, rt, "sha256:H", "sha256:H")
	require.Error(t, err)
	assert.Equal(t, 3, len(rt.toolCalls))

	updated, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecFailed, updated.Status)
}

// TestRun_BranchSelectsThenOrElse confirms predicate evaluation picks the
// correct arm and only executes that arm's steps.
func TestRun_BranchSelectsThenOrElse(t *testing.T) {
	st := memstore.New()
	eng := New(st, logger.Default())
	rt := &fakeRuntime{}

	def := &Definition{Steps: []Step{
		{ID: "branch", Type: string(StepBranch), If: "ready == true",
			Then: []Step{{ID: "go", Type: string(StepTool), Tool: "deploy"}},
			Else: []Step{{ID: "wait", Type: string(StepTool), Tool: "notify"}},
		},
	}}
	exec := newTestExec(t, st, "sha256:H")
	exec.Variables = map[string]any{"ready": true}
	require.NoError(t, st.UpdateExecution(context.Background(), exec))

	result, err := eng.Run(context.Background(), exec, def, rt, "sha256:H", "sha256:H")
	require.NoError(t, err)
	assert.Equal(t, models.ExecSucceeded, result.Status)
	assert.Contains(t, rt.toolCalls, "go")
	assert.NotContains(t, rt.toolCalls, "wait")
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
