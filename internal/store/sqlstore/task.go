package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
)

func schemaTasks(driver string) string {
	return `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		orchestrator_session_id TEXT NOT NULL,
		session_id TEXT DEFAULT '',
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		status TEXT NOT NULL,
		result TEXT DEFAULT '',
		parent_task_id TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_orch ON tasks(orchestrator_session_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_id) REFERENCES tasks(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_task_deps_depends_on ON task_dependencies(depends_on_id);
	`
}

// CreateTask inserts the task and its dependency edges in one call; callers
// invoke this inside store.WithTx alongside the cycle check so the whole
// thing commits atomically (§4.E).
func (s *Store) CreateTask(ctx context.Context, t *models.Task, dependsOn []string) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.TaskPending
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO tasks (id, orchestrator_session_id, session_id, title, description, status, result, parent_task_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.OrchestratorSessionID, t.SessionID, t.Title, t.Description, t.Status, t.Result, t.ParentTaskID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	for _, dep := range dependsOn {
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)
		`), t.ID, dep); err != nil {
			return fmt.Errorf("link task dependency %s: %w", dep, err)
		}
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t := &models.Task{}
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, orchestrator_session_id, session_id, title, description, status, result, parent_task_id, created_at, updated_at
		FROM tasks WHERE id = ?
	`), id).Scan(&t.ID, &t.OrchestratorSessionID, &t.SessionID, &t.Title, &t.Description, &t.Status, &t.Result, &t.ParentTaskID, &t.CreatedAt, &t.UpdatedAt)
	if isNoRows(err) {
		return nil, coreerr.New(coreerr.NotFound, "task not found: "+id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTask validates the status transition, persists the row, and — when
// moving to completed — cascades dependent tasks whose remaining blockers
// are now zero from blocked to pending, all expected to run inside the same
// store.WithTx the caller opened.
func (s *Store) UpdateTask(ctx context.Context, t *models.Task) error {
	current, err := s.GetTask(ctx, t.ID)
	if err != nil {
		return err
	}
	if t.Status != current.Status && !models.CanTransitionTask(current.Status, t.Status) {
		return coreerr.New(coreerr.Conflict, fmt.Sprintf("illegal task transition %s -> %s", current.Status, t.Status))
	}

	t.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE tasks SET session_id = ?, title = ?, description = ?, status = ?, result = ?, updated_at = ?
		WHERE id = ?
	`), t.SessionID, t.Title, t.Description, t.Status, t.Result, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return coreerr.New(coreerr.NotFound, "task not found: "+t.ID)
	}

	if t.Status == models.TaskCompleted && current.Status != models.TaskCompleted {
		return s.cascadeUnblock(ctx, t.ID)
	}
	return nil
}

// cascadeUnblock transitions every blocked dependent of completedTaskID to
// pending once its remaining blockers reach zero.
func (s *Store) cascadeUnblock(ctx context.Context, completedTaskID string) error {
	dependents, err := s.TaskDependents(ctx, completedTaskID)
	if err != nil {
		return err
	}
	for _, depID := range dependents {
		dep, err := s.GetTask(ctx, depID)
		if err != nil {
			return err
		}
		if dep.Status != models.TaskBlocked {
			continue
		}
		remaining, err := s.RemainingBlockers(ctx, depID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if _, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`), models.TaskPending, time.Now().UTC(), depID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, orchestratorSessionID string, status models.TaskStatus) ([]*models.Task, error) {
	query := `
		SELECT id, orchestrator_session_id, session_id, title, description, status, result, parent_task_id, created_at, updated_at
		FROM tasks WHERE orchestrator_session_id = ?`
	args := []any{orchestratorSessionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`
	return s.queryTasks(ctx, query, args...)
}

func (s *Store) ListMyTasks(ctx context.Context, sessionID string, status models.TaskStatus) ([]*models.Task, error) {
	query := `
		SELECT id, orchestrator_session_id, session_id, title, description, status, result, parent_task_id, created_at, updated_at
		FROM tasks WHERE session_id = ?`
	args := []any{sessionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`
	return s.queryTasks(ctx, query, args...)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Task
	for rows.Next() {
		t := &models.Task{}
		if err := rows.Scan(&t.ID, &t.OrchestratorSessionID, &t.SessionID, &t.Title, &t.Description, &t.Status, &t.Result, &t.ParentTaskID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) TaskDependencies(ctx context.Context, taskID string) ([]string, error) {
	return s.queryTaskEdges(ctx, `SELECT depends_on_id FROM task_dependencies WHERE task_id = ?`, taskID)
}

func (s *Store) TaskDependents(ctx context.Context, taskID string) ([]string, error) {
	return s.queryTaskEdges(ctx, `SELECT task_id FROM task_dependencies WHERE depends_on_id = ?`, taskID)
}

func (s *Store) queryTaskEdges(ctx context.Context, query, id string) ([]string, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RemainingBlockers counts dependencies of taskID that are not yet completed.
func (s *Store) RemainingBlockers(ctx context.Context, taskID string) (int, error) {
	var count int
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT COUNT(*) FROM task_dependencies d
		JOIN tasks t ON t.id = d.depends_on_id
		WHERE d.task_id = ? AND t.status != ?
	`), taskID, models.TaskCompleted).Scan(&count)
	return count, err
}
