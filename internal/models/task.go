package models

import "time"

// TaskStatus is a Task's position in its status lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskCompleted, TaskBlocked, TaskFailed},
	TaskInProgress: {TaskCompleted, TaskFailed, TaskBlocked},
	TaskBlocked:    {TaskPending, TaskFailed},
	TaskCompleted:  {},
	TaskFailed:     {TaskPending},
}

// CanTransitionTask reports whether moving a task from "from" to "to" is legal.
func CanTransitionTask(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range taskTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Task is one node in the orchestrator-rooted dependency DAG.
type Task struct {
	ID                   string
	OrchestratorSessionID string
	SessionID            string
	Title                string
	Description          string
	Status               TaskStatus
	Result               string
	ParentTaskID         string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TaskDependency is a directed edge: Task TaskID depends on Task DependsOnID.
type TaskDependency struct {
	TaskID      string
	DependsOnID string
}

// MailboxEntry is a persistent cross-session message distinct from chat
// history. Exactly one of ToSessionID/ToUserID/ToHandle is set at write time
// (ToHandle resolves to ToUserID before persistence).
type MailboxEntry struct {
	ID               string
	ToSessionID      string
	ToUserID         string
	ToHandle         string
	MessageType      string
	Content          string
	ContextSessionID string
	ContextTaskID    string
	ReplyToID        string
	ReadAt           *time.Time
	CreatedAt        time.Time
}
