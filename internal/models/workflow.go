package models

import "time"

// Workflow is a versioned, hash-identified declarative program of steps.
// The canonical definition at any instant is the WorkflowVersion matching
// CurrentHash; CurrentHash advances only via proposal apply or rollback.
type Workflow struct {
	ID             string
	Slug           string
	Name           string
	Description    string
	CurrentHash    string
	CurrentVersion int
	CreatedAt      time.Time
}

// WorkflowVersion is an immutable snapshot of a workflow's step tree.
type WorkflowVersion struct {
	WorkflowID     string
	Hash           string
	DefinitionJSON string
	Version        int
	Notes          string
	CreatedAt      time.Time
}

// ExecutionStatus is a WorkflowExecution's position in its lifecycle.
type ExecutionStatus string

const (
	ExecQueued         ExecutionStatus = "queued"
	ExecRunning        ExecutionStatus = "running"
	ExecNeedsApproval  ExecutionStatus = "needs_approval"
	ExecSucceeded      ExecutionStatus = "succeeded"
	ExecFailed         ExecutionStatus = "failed"
	ExecCancelled      ExecutionStatus = "cancelled"
)

// WorkflowExecution is one run of a workflow at a specific hash.
type WorkflowExecution struct {
	ID               string
	WorkflowID       string
	WorkflowHash     string
	Status           ExecutionStatus
	Trigger          string
	Variables        map[string]any
	Error            string
	ResumeToken      string
	RequiresApproval bool
	ParentExecutionID string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// StepTraceStatus is a StepTrace's position in its lifecycle.
type StepTraceStatus string

const (
	StepPending   StepTraceStatus = "pending"
	StepRunning   StepTraceStatus = "running"
	StepSucceeded StepTraceStatus = "succeeded"
	StepFailed    StepTraceStatus = "failed"
	StepSkipped   StepTraceStatus = "skipped"
	StepAwaiting  StepTraceStatus = "awaiting"
)

// StepTrace is one attempt of one step within a WorkflowExecution.
// Display order is trace insertion order, not the static definition order.
type StepTrace struct {
	ID          string
	ExecutionID string
	StepID      string
	Attempt     int
	Status      StepTraceStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// ProposalStatus is a WorkflowProposal's position in its review lifecycle.
type ProposalStatus string

const (
	ProposalDraft    ProposalStatus = "draft"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalApplied  ProposalStatus = "applied"
	ProposalExpired  ProposalStatus = "expired"
)

// WorkflowProposal is a candidate replacement for a workflow's definition,
// subject to review and a hash-checked atomic apply.
type WorkflowProposal struct {
	ID                   string
	WorkflowID           string
	BaseHash             string
	ProposedBySessionID  string
	ExecutionID          string
	ProposalJSON         string
	DiffText             string
	Status               ProposalStatus
	ReviewNotes          string
	ExpiresAt            *time.Time
	CreatedAt            time.Time
}
