// Package store defines the persistence contract the rest of the control
// plane depends on. Per the core's design, the relational store is treated
// as an opaque transactional KV with SQL-like predicates: callers never see
// SQL, only typed CRUD and query methods plus a WithTx wrapper for the
// multi-row transitions §5 requires (apply, resume, task-dependency
// cascade, status transitions).
package store

import (
	"context"
	"time"

	"github.com/kandev/agentcore/internal/models"
)

// Tx is a handle passed to the function given to WithTx; all store calls
// made through it participate in the same transaction.
type Tx interface {
	Store
}

// Store is the full persistence surface consumed by every component.
type Store interface {
	SessionStore
	MessageStore
	TaskStore
	MailboxStore
	WorkflowStore

	// WithTx runs fn inside a single transaction, committing on success and
	// rolling back if fn returns an error or panics.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Close() error
}

// SessionStore persists Session and SessionGitState rows.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error
	UpdateSession(ctx context.Context, s *models.Session) error
	ListChildSessions(ctx context.Context, parentID string) ([]*models.Session, error)
	ListAncestorIDs(ctx context.Context, id string, maxDepth int) ([]string, error)

	PutGitState(ctx context.Context, g *models.SessionGitState) error
	GetGitState(ctx context.Context, sessionID string) (*models.SessionGitState, error)
}

// MessageStore persists the append-only chat log.
type MessageStore interface {
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, sessionID string, limit int, after *time.Time) ([]*models.Message, error)
}

// TaskStore persists the orchestrator-rooted task DAG.
type TaskStore interface {
	CreateTask(ctx context.Context, t *models.Task, dependsOn []string) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	ListTasks(ctx context.Context, orchestratorSessionID string, status models.TaskStatus) ([]*models.Task, error)
	ListMyTasks(ctx context.Context, sessionID string, status models.TaskStatus) ([]*models.Task, error)
	TaskDependencies(ctx context.Context, taskID string) ([]string, error)
	TaskDependents(ctx context.Context, taskID string) ([]string, error)
	RemainingBlockers(ctx context.Context, taskID string) (int, error)
}

// MailboxStore persists the cross-session mailbox/notification queue.
type MailboxStore interface {
	PutMailboxEntry(ctx context.Context, e *models.MailboxEntry) error
	ListMailbox(ctx context.Context, recipient MailboxRecipient, limit int, after *time.Time) ([]*models.MailboxEntry, error)
	MarkRead(ctx context.Context, ids []string) error
	ResolveHandle(ctx context.Context, handle string) (userID string, err error)
}

// MailboxRecipient identifies a mailbox owner by exactly one of its fields.
type MailboxRecipient struct {
	SessionID string
	UserID    string
}

// WorkflowStore persists workflows, versions, executions, step traces, and
// proposals.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, w *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	GetWorkflowBySlug(ctx context.Context, slug string) (*models.Workflow, error)
	SwapWorkflowHash(ctx context.Context, workflowID, expectedHash, newHash string, newVersion int) (bool, error)

	PutWorkflowVersion(ctx context.Context, v *models.WorkflowVersion) error
	GetWorkflowVersion(ctx context.Context, workflowID, hash string) (*models.WorkflowVersion, error)

	CreateExecution(ctx context.Context, e *models.WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)
	UpdateExecution(ctx context.Context, e *models.WorkflowExecution) error

	AppendStepTrace(ctx context.Context, t *models.StepTrace) error
	ListStepTraces(ctx context.Context, executionID string, limit int) ([]*models.StepTrace, error)

	CreateProposal(ctx context.Context, p *models.WorkflowProposal) error
	GetProposal(ctx context.Context, id string) (*models.WorkflowProposal, error)
	UpdateProposal(ctx context.Context, p *models.WorkflowProposal) error
	ListExpiredProposals(ctx context.Context, asOf time.Time) ([]*models.WorkflowProposal, error)
}
