package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/constants"
	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store"
)

// Runtime is the set of effectful operations the interpreter needs that live
// outside this package (session delivery, sandboxed tool execution, child
// execution spawning) so that internal/workflow/engine never imports
// internal/session directly.
type Runtime interface {
	// RunTool invokes step.Tool in the session bound to exec (or the
	// session step.SessionID names) and returns its result payload.
	RunTool(ctx context.Context, exec *models.WorkflowExecution, step Step) (map[string]any, error)
	// SendAgentMessage delivers step's prompt text to a session. If the step
	// awaits a reply, SendAgentMessage blocks up to the step's timeout and
	// returns the reply text.
	SendAgentMessage(ctx context.Context, exec *models.WorkflowExecution, step Step) (string, error)
	// RunSub spawns and fully drives a child execution of step.WorkflowSlug,
	// returning the error the child execution failed with, if any.
	RunSub(ctx context.Context, parent *models.WorkflowExecution, step Step) error
	// ResetAgentContext clears conversational state ahead of a step, per an
	// on_enter/on_exit reset_agent_context action.
	ResetAgentContext(ctx context.Context, exec *models.WorkflowExecution, step Step) error
}

// Engine interprets workflow step trees against a durable trace. One Engine
// serves every execution; per-execution serialization comes from the
// caller locking by execution id (the run actor in internal/workflow
// owns that), not from anything in Engine itself.
type Engine struct {
	store store.WorkflowStore
	log   *logger.Logger

	mu        sync.Mutex
	compiled  map[string]*vm.Program
}

// New builds an Engine backed by st for trace persistence.
func New(st store.WorkflowStore, log *logger.Logger) *Engine {
	return &Engine{
		store:    st,
		log:      log.WithFields(zap.String("component", "workflow-engine")),
		compiled: make(map[string]*vm.Program),
	}
}

// Run drives execution exec (already persisted with Status=queued) against
// def, starting from the beginning of its trace (or resuming past whatever
// steps are already recorded succeeded, which makes Run safe to call again
// after a process restart). wantHash is the caller's declared intent; Run
// fails with HASH_MISMATCH, before touching exec, unless it equals
// currentHash, the workflow's current hash as the caller read it.
func (e *Engine) Run(ctx context.Context, exec *models.WorkflowExecution, def *Definition, rt Runtime, wantHash, currentHash string) (*models.WorkflowExecution, error) {
	log := e.log.WithExecutionID(exec.ID)
	if wantHash != currentHash {
		log.Warn("rejecting run: workflow hash mismatch", zap.String("have", currentHash), zap.String("want", wantHash))
		return nil, coreerr.New(coreerr.HashMismatch, fmt.Sprintf("workflow hash mismatch: have %s, want %s", currentHash, wantHash))
	}

	exec.Status = models.ExecRunning
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	log.Info("running execution", zap.Int("step_count", len(def.Steps)))

	leaves, err := e.flatten(def.Steps, exec.Variables)
	if err != nil {
		return nil, e.fail(ctx, exec, err)
	}

	return e.walk(ctx, exec, leaves, rt)
}

// Resume presents a decision for exec's current approval gate. On approve,
// it rotates the resume token, marks the gate succeeded, and continues the
// walk from the next leaf. On deny, it cancels the execution.
func (e *Engine) Resume(ctx context.Context, exec *models.WorkflowExecution, def *Definition, rt Runtime, resumeToken, decision string, varPatch map[string]any) (*models.WorkflowExecution, error) {
	log := e.log.WithExecutionID(exec.ID)
	if exec.Status != models.ExecNeedsApproval {
		return nil, coreerr.New(coreerr.Conflict, "execution is not awaiting approval")
	}
	if exec.ResumeToken == "" || resumeToken != exec.ResumeToken {
		log.Warn("rejecting resume: token mismatch")
		return nil, coreerr.New(coreerr.InvalidToken, "resume token does not match")
	}
	log.Info("resuming execution", zap.String("decision", decision))

	traces, err := e.store.ListStepTraces(ctx, exec.ID, 500)
	if err != nil {
		return nil, err
	}
	pending := latestAwaiting(traces)
	if pending == nil {
		return nil, coreerr.New(coreerr.Conflict, "no pending approval gate found")
	}

	for k, v := range varPatch {
		if exec.Variables == nil {
			exec.Variables = map[string]any{}
		}
		exec.Variables[k] = v
	}

	switch decision {
	case "deny":
		now := time.Now().UTC()
		pending.Status = models.StepSkipped
		pending.Error = "denied via resume: " + decision
		pending.CompletedAt = &now
		if err := e.store.AppendStepTrace(ctx, pending); err != nil {
			return nil, err
		}
		exec.Status = models.ExecCancelled
		exec.Error = "denied at approval gate " + pending.StepID
		exec.ResumeToken = ""
		exec.RequiresApproval = false
		completed := now
		exec.CompletedAt = &completed
		return exec, e.store.UpdateExecution(ctx, exec)
	case "approve":
		now := time.Now().UTC()
		pending.Status = models.StepSucceeded
		pending.CompletedAt = &now
		if err := e.store.AppendStepTrace(ctx, pending); err != nil {
			return nil, err
		}
		exec.Status = models.ExecRunning
		exec.ResumeToken = ""
		exec.RequiresApproval = false
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			return nil, err
		}
	default:
		return nil, coreerr.New(coreerr.Validation, "decision must be approve or deny")
	}

	leaves, err := e.flatten(def.Steps, exec.Variables)
	if err != nil {
		return nil, e.fail(ctx, exec, err)
	}
	return e.walk(ctx, exec, leaves, rt)
}

// flatten recursively expands sequence and branch nodes, in declaration
// order, into the ordered list of leaf operations (tool, agent_message,
// approval, sub, or any unrecognized type). Branch predicates are evaluated
// deterministically against vars, so re-flattening on resume reproduces the
// same leaf list as long as vars is unchanged by anything but this engine.
func (e *Engine) flatten(steps []Step, vars map[string]any) ([]Step, error) {
	var out []Step
	for _, s := range steps {
		switch StepKind(s.Type) {
		case StepSequence:
			children, err := e.flatten(s.Steps, vars)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		case StepBranch:
			ok, err := e.evalPredicate(s.If, vars)
			if err != nil {
				return nil, coreerr.Wrap(coreerr.Validation, "branch predicate "+s.ID, err)
			}
			branch := s.Else
			if ok {
				branch = s.Then
			}
			children, err := e.flatten(branch, vars)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		default:
			out = append(out, s)
		}
	}
	return out, nil
}

// evalPredicate compiles (once per expression text) and evaluates s against
// vars using expr-lang/expr, deterministic and side-effect-free per §4.F.
func (e *Engine) evalPredicate(exprText string, vars map[string]any) (bool, error) {
	e.mu.Lock()
	program, ok := e.compiled[exprText]
	e.mu.Unlock()
	if !ok {
		var err error
		program, err = expr.Compile(exprText, expr.Env(map[string]any{}), expr.AsBool())
		if err != nil {
			return false, err
		}
		e.mu.Lock()
		e.compiled[exprText] = program
		e.mu.Unlock()
	}

	env := map[string]any{}
	for k, v := range vars {
		env[k] = v
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

// walk executes leaves in order, skipping any whose latest trace already
// shows success, so replaying a partially-run execution (after a process
// restart or after a resumed approval gate) is idempotent and resumes
// exactly where it left off.
func (e *Engine) walk(ctx context.Context, exec *models.WorkflowExecution, leaves []Step, rt Runtime) (*models.WorkflowExecution, error) {
	traces, err := e.store.ListStepTraces(ctx, exec.ID, 500)
	if err != nil {
		return nil, err
	}
	done := doneSet(traces)

	for _, leaf := range leaves {
		if done[leaf.ID] {
			continue
		}
		if err := e.runOnEnter(ctx, exec, rt, leaf); err != nil {
			return nil, e.fail(ctx, exec, err)
		}

		switch StepKind(leaf.Type) {
		case StepTool:
			if err := e.runTool(ctx, exec, rt, leaf); err != nil {
				return nil, e.fail(ctx, exec, err)
			}
		case StepAgentMessage:
			if err := e.runAgentMessage(ctx, exec, rt, leaf); err != nil {
				return nil, e.fail(ctx, exec, err)
			}
		case StepApproval:
			if err := e.runApproval(ctx, exec, leaf); err != nil {
				return nil, err
			}
			return exec, nil // suspended; caller presents a resume token
		case StepSub:
			if err := e.runSub(ctx, exec, rt, leaf); err != nil {
				return nil, e.fail(ctx, exec, err)
			}
		default:
			err := coreerr.New(coreerr.Internal, "no interpreter for step type "+leaf.Type)
			return nil, e.fail(ctx, exec, err)
		}

		if err := e.runOnExit(ctx, exec, rt, leaf); err != nil {
			return nil, e.fail(ctx, exec, err)
		}
	}

	now := time.Now().UTC()
	exec.Status = models.ExecSucceeded
	exec.CompletedAt = &now
	return exec, e.store.UpdateExecution(ctx, exec)
}

func (e *Engine) runOnEnter(ctx context.Context, exec *models.WorkflowExecution, rt Runtime, step Step) error {
	return e.runActions(ctx, exec, rt, step, step.OnEnter)
}

func (e *Engine) runOnExit(ctx context.Context, exec *models.WorkflowExecution, rt Runtime, step Step) error {
	return e.runActions(ctx, exec, rt, step, step.OnExit)
}

func (e *Engine) runActions(ctx context.Context, exec *models.WorkflowExecution, rt Runtime, step Step, actions []StepAction) error {
	for _, a := range actions {
		switch a.Kind {
		case "set_workflow_data":
			if exec.Variables == nil {
				exec.Variables = map[string]any{}
			}
			exec.Variables[a.Key] = a.Value
			if err := e.store.UpdateExecution(ctx, exec); err != nil {
				return err
			}
		case "reset_agent_context":
			if err := rt.ResetAgentContext(ctx, exec, step); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) runTool(ctx context.Context, exec *models.WorkflowExecution, rt Runtime, step Step) error {
	attempts := 1
	backoff := 0
	if step.Retry != nil {
		attempts = step.Retry.Attempts
		backoff = step.Retry.BackoffMs
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		running := newTrace(exec.ID, step.ID, attempt, models.StepRunning)
		if err := e.store.AppendStepTrace(ctx, running); err != nil {
			return err
		}

		_, err := rt.RunTool(ctx, exec, step)
		now := time.Now().UTC()
		if err == nil {
			succeeded := newTrace(exec.ID, step.ID, attempt, models.StepSucceeded)
			succeeded.CompletedAt = &now
			return e.store.AppendStepTrace(ctx, succeeded)
		}

		lastErr = err
		failed := newTrace(exec.ID, step.ID, attempt, models.StepFailed)
		failed.Error = err.Error()
		failed.CompletedAt = &now
		if err := e.store.AppendStepTrace(ctx, failed); err != nil {
			return err
		}
		if attempt < attempts && backoff > 0 {
			time.Sleep(time.Duration(backoff*attempt) * time.Millisecond)
		}
	}
	return coreerr.Wrap(coreerr.Internal, "tool step "+step.ID+" exhausted retries", lastErr)
}

func (e *Engine) runAgentMessage(ctx context.Context, exec *models.WorkflowExecution, rt Runtime, step Step) error {
	running := newTrace(exec.ID, step.ID, 1, models.StepRunning)
	if err := e.store.AppendStepTrace(ctx, running); err != nil {
		return err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if step.Await {
		timeoutMs := step.AwaitTimeoutMs
		if timeoutMs == 0 {
			timeoutMs = int(constants.DefaultStepAwaitTimeout.Milliseconds())
		}
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	_, err := rt.SendAgentMessage(callCtx, exec, step)
	now := time.Now().UTC()
	if err != nil {
		failed := newTrace(exec.ID, step.ID, 1, models.StepFailed)
		failed.Error = err.Error()
		failed.CompletedAt = &now
		_ = e.store.AppendStepTrace(ctx, failed)
		if callCtx.Err() != nil {
			return coreerr.New(coreerr.Timeout, "agent_message "+step.ID+" timed out waiting for a reply")
		}
		return err
	}

	succeeded := newTrace(exec.ID, step.ID, 1, models.StepSucceeded)
	succeeded.CompletedAt = &now
	return e.store.AppendStepTrace(ctx, succeeded)
}

func (e *Engine) runApproval(ctx context.Context, exec *models.WorkflowExecution, step Step) error {
	token, err := newResumeToken()
	if err != nil {
		return err
	}

	awaiting := newTrace(exec.ID, step.ID, 1, models.StepAwaiting)
	if err := e.store.AppendStepTrace(ctx, awaiting); err != nil {
		return err
	}

	exec.Status = models.ExecNeedsApproval
	exec.ResumeToken = token
	exec.RequiresApproval = true
	return e.store.UpdateExecution(ctx, exec)
}

func (e *Engine) runSub(ctx context.Context, exec *models.WorkflowExecution, rt Runtime, step Step) error {
	running := newTrace(exec.ID, step.ID, 1, models.StepRunning)
	if err := e.store.AppendStepTrace(ctx, running); err != nil {
		return err
	}

	err := rt.RunSub(ctx, exec, step)
	now := time.Now().UTC()
	if err != nil {
		if step.Isolate {
			// Resolved Open Question: isolate:true sub steps record the
			// child's failure as a skipped sibling note and the parent
			// continues (fire-and-forget semantics).
			skipped := newTrace(exec.ID, step.ID, 1, models.StepSkipped)
			skipped.Error = "isolated sub execution failed: " + err.Error()
			skipped.CompletedAt = &now
			return e.store.AppendStepTrace(ctx, skipped)
		}
		failed := newTrace(exec.ID, step.ID, 1, models.StepFailed)
		failed.Error = err.Error()
		failed.CompletedAt = &now
		_ = e.store.AppendStepTrace(ctx, failed)
		return err
	}

	succeeded := newTrace(exec.ID, step.ID, 1, models.StepSucceeded)
	succeeded.CompletedAt = &now
	return e.store.AppendStepTrace(ctx, succeeded)
}

func (e *Engine) fail(ctx context.Context, exec *models.WorkflowExecution, cause error) error {
	now := time.Now().UTC()
	exec.Status = models.ExecFailed
	exec.Error = cause.Error()
	exec.CompletedAt = &now
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		e.log.WithExecutionID(exec.ID).Error("failed to persist execution failure", zap.Error(err))
	}
	return cause
}

func newTrace(executionID, stepID string, attempt int, status models.StepTraceStatus) *models.StepTrace {
	now := time.Now().UTC()
	t := &models.StepTrace{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		StepID:      stepID,
		Attempt:     attempt,
		Status:      status,
		CreatedAt:   now,
	}
	if status == models.StepRunning || status == models.StepAwaiting {
		t.StartedAt = &now
	}
	return t
}

func doneSet(traces []*models.StepTrace) map[string]bool {
	latest := map[string]models.StepTraceStatus{}
	for _, t := range traces {
		latest[t.StepID] = t.Status // traces are ordered; last write wins
	}
	done := map[string]bool{}
	for id, status := range latest {
		if status == models.StepSucceeded || status == models.StepSkipped {
			done[id] = true
		}
	}
	return done
}

func latestAwaiting(traces []*models.StepTrace) *models.StepTrace {
	var pending *models.StepTrace
	for _, t := range traces {
		if t.Status == models.StepAwaiting {
			pending = t
		}
	}
	return pending
}

// newResumeToken mints a cryptographically random resume token per §4.F.
func newResumeToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "wrf_rt_" + hex.EncodeToString(buf), nil
}
