// Package taskboard implements the orchestrator-rooted task DAG (§4.E):
// create/update with cycle and cascade checks, and stable-ordered listing.
// The store backends (memstore, sqlstore) already enforce the
// completed→cascade-unblock rule and legal status transitions inside
// UpdateTask; this package adds the DFS cycle check createTask needs before
// the insert and the thin id/defaulting layer callers expect.
package taskboard

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store"
)

// Board wires the task DAG operations to a store.
type Board struct {
	store store.Store
	log   *logger.Logger
}

// New builds a Board over the given store.
func New(st store.Store, log *logger.Logger) *Board {
	return &Board{store: st, log: log.WithFields(zap.String("component", "taskboard"))}
}

// CreateTaskInput mirrors createTask's parameters.
type CreateTaskInput struct {
	OrchestratorSessionID string
	AssigneeSessionID     string
	Title                 string
	Description           string
	ParentTaskID          string
	DependsOn             []string
}

// CreateTask inserts the task and its dependency edges in one transaction,
// rejecting any edge that would introduce a cycle. A task with no DependsOn
// starts `pending`; a task with at least one unsatisfied dependency starts
// `blocked`. The existence/cycle checks and the insert all run inside one
// store.WithTx so a concurrent CreateTask can never observe a half-formed
// dependency graph.
func (b *Board) CreateTask(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	if in.Title == "" {
		return nil, coreerr.New(coreerr.Validation, "task title is required")
	}

	id := uuid.New().String()
	t := &models.Task{
		ID:                    id,
		OrchestratorSessionID: in.OrchestratorSessionID,
		SessionID:             in.AssigneeSessionID,
		Title:                 in.Title,
		Description:           in.Description,
		ParentTaskID:          in.ParentTaskID,
	}

	err := b.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, dep := range in.DependsOn {
			if _, err := tx.GetTask(ctx, dep); err != nil {
				return coreerr.Wrap(coreerr.Validation, "dependency task not found: "+dep, err)
			}
			reaches, err := canReach(ctx, tx, dep, id, 0)
			if err != nil {
				return err
			}
			if reaches {
				return coreerr.New(coreerr.Conflict, "dependency edge would create a cycle: "+dep+" -> "+id)
			}
		}

		t.Status = models.TaskPending
		if len(in.DependsOn) > 0 {
			unmet, err := unmetCount(ctx, tx, in.DependsOn)
			if err != nil {
				return err
			}
			if unmet > 0 {
				t.Status = models.TaskBlocked
			}
		}

		return tx.CreateTask(ctx, t, in.DependsOn)
	})
	if err != nil {
		return nil, err
	}
	b.log.Info("created task", zap.String("task_id", id), zap.String("orchestrator_session_id", in.OrchestratorSessionID))
	return t, nil
}

// canReach is a bounded DFS over existing TaskDependencies edges asking
// whether `from` can already reach `target`. maxDepth guards against a
// corrupted graph turning the walk unbounded. It takes a store.Store so it
// can run either directly or, as here, against a transaction handle.
func canReach(ctx context.Context, s store.Store, from, target string, depth int) (bool, error) {
	const maxDepth = 10000
	if depth > maxDepth {
		return false, coreerr.New(coreerr.Internal, "dependency graph traversal exceeded max depth")
	}
	if from == target {
		return true, nil
	}
	deps, err := s.TaskDependencies(ctx, from)
	if err != nil {
		return false, err
	}
	for _, dep := range deps {
		reaches, err := canReach(ctx, s, dep, target, depth+1)
		if err != nil {
			return false, err
		}
		if reaches {
			return true, nil
		}
	}
	return false, nil
}

func unmetCount(ctx context.Context, s store.Store, dependsOn []string) (int, error) {
	unmet := 0
	for _, dep := range dependsOn {
		t, err := s.GetTask(ctx, dep)
		if err != nil {
			return 0, err
		}
		if t.Status != models.TaskCompleted {
			unmet++
		}
	}
	return unmet, nil
}

// UpdateTaskInput carries the patchable fields of updateTask; zero-value
// fields leave the corresponding column unchanged. That includes Status: an
// empty Status means "no change" (the empty string is never a valid status).
type UpdateTaskInput struct {
	ID          string
	Status      models.TaskStatus
	Result      string
	Description string
	Title       string
	SessionID   string
}

// UpdateTask applies the patch and persists it. The store enforces legal
// status transitions and runs the completed→cascade-unblock rule inside the
// same write; the read, the write, and the cascade all run inside one
// store.WithTx so the patch is always applied to the row the caller just
// read, never a version raced out from under it.
func (b *Board) UpdateTask(ctx context.Context, in UpdateTaskInput) (*models.Task, error) {
	var result *models.Task
	err := b.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetTask(ctx, in.ID)
		if err != nil {
			return err
		}

		next := *current
		if in.Status != "" {
			next.Status = in.Status
		}
		if in.Result != "" {
			next.Result = in.Result
		}
		if in.Description != "" {
			next.Description = in.Description
		}
		if in.Title != "" {
			next.Title = in.Title
		}
		if in.SessionID != "" {
			next.SessionID = in.SessionID
		}

		if err := tx.UpdateTask(ctx, &next); err != nil {
			return err
		}
		result, err = tx.GetTask(ctx, in.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListTasks returns an orchestrator's tasks, optionally filtered by status,
// stably ordered by (createdAt, id).
func (b *Board) ListTasks(ctx context.Context, orchestratorSessionID string, status models.TaskStatus) ([]*models.Task, error) {
	return b.store.ListTasks(ctx, orchestratorSessionID, status)
}

// ListMyTasks returns tasks assigned to sessionID, optionally filtered by
// status, stably ordered by (createdAt, id).
func (b *Board) ListMyTasks(ctx context.Context, sessionID string, status models.TaskStatus) ([]*models.Task, error) {
	return b.store.ListMyTasks(ctx, sessionID, status)
}
