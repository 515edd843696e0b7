// Package workflow ties the step interpreter (internal/workflow/engine), the
// hash-gated proposal pipeline (internal/workflow/proposal), and canonical
// hashing (internal/workflow/canon) into a single-writer run actor keyed by
// execution id -- the same per-id serialization internal/session.Registry
// gives Session Actors, per §9's "single-writer per entity" design note.
package workflow

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store"
	"github.com/kandev/agentcore/internal/workflow/engine"
)

// Registry serializes Run/Resume calls per execution id. Unlike a Session
// Actor, a workflow run has no long-lived in-memory state worth owning
// between suspension points -- its durable state is the StepTrace table --
// so a per-id mutex is enough to give every execution a single writer
// without a dedicated goroutine and inbox channel.
type Registry struct {
	store store.WorkflowStore
	eng   *engine.Engine

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry builds a Registry over st, driving executions with eng.
func NewRegistry(st store.WorkflowStore, eng *engine.Engine) *Registry {
	return &Registry{store: st, eng: eng, locks: make(map[string]*sync.Mutex)}
}

func (r *Registry) lockFor(executionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[executionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[executionID] = l
	}
	return l
}

// CreateExecution persists a new queued execution bound to workflowHash.
// The caller (HTTP/CLI adapter) then calls Run against the same hash.
func (r *Registry) CreateExecution(ctx context.Context, workflowID, workflowHash, trigger string, variables map[string]any) (*models.WorkflowExecution, error) {
	exec := &models.WorkflowExecution{
		ID:           uuid.New().String(),
		WorkflowID:   workflowID,
		WorkflowHash: workflowHash,
		Status:       models.ExecQueued,
		Trigger:      trigger,
		Variables:    variables,
	}
	if err := r.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// Run drives executionID against def under that execution's lock, comparing
// wantHash to the workflow's currentHash per §4.F's hash-binding rule. Two
// concurrent Run/Resume calls for the same execution id always serialize;
// calls for different ids never block each other.
func (r *Registry) Run(ctx context.Context, executionID string, def *engine.Definition, rt engine.Runtime, wantHash, currentHash string) (*models.WorkflowExecution, error) {
	lock := r.lockFor(executionID)
	lock.Lock()
	defer lock.Unlock()

	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	result, err := r.eng.Run(ctx, exec, def, rt, wantHash, currentHash)
	r.forgetIfTerminal(executionID, result)
	return result, err
}

// Resume presents a decision for executionID's current approval gate.
func (r *Registry) Resume(ctx context.Context, executionID string, def *engine.Definition, rt engine.Runtime, resumeToken, decision string, varPatch map[string]any) (*models.WorkflowExecution, error) {
	lock := r.lockFor(executionID)
	lock.Lock()
	defer lock.Unlock()

	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	result, err := r.eng.Resume(ctx, exec, def, rt, resumeToken, decision, varPatch)
	r.forgetIfTerminal(executionID, result)
	return result, err
}

// forgetIfTerminal drops executionID's lock once it reaches a status no
// further Run/Resume call can legally observe, so the lock map doesn't grow
// unboundedly across a long-lived process.
func (r *Registry) forgetIfTerminal(executionID string, exec *models.WorkflowExecution) {
	if exec == nil {
		return
	}
	switch exec.Status {
	case models.ExecSucceeded, models.ExecFailed, models.ExecCancelled:
		r.mu.Lock()
		delete(r.locks, executionID)
		r.mu.Unlock()
	}
}
