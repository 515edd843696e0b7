// Package models defines the persisted entities shared by the control
// plane's components.
package models

import "time"

// SessionStatus is a Session's position in its state machine.
type SessionStatus string

const (
	SessionPending     SessionStatus = "pending"
	SessionStarting    SessionStatus = "starting"
	SessionRunning     SessionStatus = "running"
	SessionIdle        SessionStatus = "idle"
	SessionHibernated  SessionStatus = "hibernated"
	SessionTerminated  SessionStatus = "terminated"
	SessionError       SessionStatus = "error"
)

// SessionPurpose distinguishes top-level interactive sessions from ones
// created to serve an orchestrator or a workflow.
type SessionPurpose string

const (
	PurposeInteractive  SessionPurpose = "interactive"
	PurposeOrchestrator SessionPurpose = "orchestrator"
	PurposeWorkflow     SessionPurpose = "workflow"
	PurposeChild        SessionPurpose = "child"
)

// Session is a single addressable conversation with a sandboxed agent.
type Session struct {
	ID         string
	UserID     string
	ParentID   string
	Workspace  string
	Title      string
	Status     SessionStatus
	Purpose    SessionPurpose
	ModelPref  string
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SessionGitState is the 1:1 source-control state of a Session, mutated
// only before the first successful starting->running transition.
type SessionGitState struct {
	SessionID  string
	SourceType string
	RepoURL    string
	Branch     string
	Ref        string
}

// sessionTransitions enumerates every legal Status move. A transition not
// present here is rejected.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionPending:    {SessionStarting},
	SessionStarting:   {SessionRunning, SessionError},
	SessionRunning:    {SessionIdle, SessionError, SessionHibernated, SessionTerminated},
	SessionIdle:       {SessionRunning, SessionHibernated, SessionTerminated},
	SessionHibernated: {SessionStarting},
	SessionError:      {SessionTerminated},
	SessionTerminated: {},
}

// CanTransition reports whether moving from "from" to "to" is legal.
func CanTransition(from, to SessionStatus) bool {
	for _, allowed := range sessionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Message is an append-only chat entry belonging to a Session.
type Message struct {
	ID          string
	SessionID   string
	Role        string
	Content     string
	ChannelType string
	ChannelID   string
	ToolCall    map[string]any
	ForwardFrom string
	EditOf      string
	CreatedAt   time.Time
}
