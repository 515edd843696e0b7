package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
)

func (s *Store) CreateTask(ctx context.Context, t *models.Task, dependsOn []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.TaskPending
	}
	cp := *t
	s.tasks[t.ID] = &cp

	if len(dependsOn) > 0 {
		set := make(map[string]struct{}, len(dependsOn))
		for _, dep := range dependsOn {
			set[dep] = struct{}{}
		}
		s.taskDeps[t.ID] = set
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "task not found: "+id)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) UpdateTask(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[t.ID]
	if !ok {
		return coreerr.New(coreerr.NotFound, "task not found: "+t.ID)
	}
	if t.Status != current.Status && !models.CanTransitionTask(current.Status, t.Status) {
		return coreerr.New(coreerr.Conflict, "illegal task transition")
	}

	wasCompleted := current.Status == models.TaskCompleted
	current.SessionID = t.SessionID
	current.Title = t.Title
	current.Description = t.Description
	current.Status = t.Status
	current.Result = t.Result
	current.UpdatedAt = time.Now().UTC()

	if current.Status == models.TaskCompleted && !wasCompleted {
		s.cascadeUnblockLocked(t.ID)
	}
	return nil
}

// cascadeUnblockLocked must be called with s.mu held.
func (s *Store) cascadeUnblockLocked(completedTaskID string) {
	for depID, deps := range s.taskDeps {
		if _, ok := deps[completedTaskID]; !ok {
			continue
		}
		dep, ok := s.tasks[depID]
		if !ok || dep.Status != models.TaskBlocked {
			continue
		}
		if s.remainingBlockersLocked(depID) == 0 {
			dep.Status = models.TaskPending
			dep.UpdatedAt = time.Now().UTC()
		}
	}
}

func (s *Store) ListTasks(ctx context.Context, orchestratorSessionID string, status models.TaskStatus) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterTasksLocked(func(t *models.Task) bool {
		return t.OrchestratorSessionID == orchestratorSessionID && (status == "" || t.Status == status)
	}), nil
}

func (s *Store) ListMyTasks(ctx context.Context, sessionID string, status models.TaskStatus) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterTasksLocked(func(t *models.Task) bool {
		return t.SessionID == sessionID && (status == "" || t.Status == status)
	}), nil
}

func (s *Store) filterTasksLocked(pred func(*models.Task) bool) []*models.Task {
	var result []*models.Task
	for _, t := range s.tasks {
		if pred(t) {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (s *Store) TaskDependencies(ctx context.Context, taskID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for dep := range s.taskDeps[taskID] {
		ids = append(ids, dep)
	}
	return ids, nil
}

func (s *Store) TaskDependents(ctx context.Context, taskID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for depID, deps := range s.taskDeps {
		if _, ok := deps[taskID]; ok {
			ids = append(ids, depID)
		}
	}
	return ids, nil
}

func (s *Store) RemainingBlockers(ctx context.Context, taskID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remainingBlockersLocked(taskID), nil
}

// remainingBlockersLocked must be called with s.mu held.
func (s *Store) remainingBlockersLocked(taskID string) int {
	count := 0
	for dep := range s.taskDeps[taskID] {
		if t, ok := s.tasks[dep]; ok && t.Status != models.TaskCompleted {
			count++
		}
	}
	return count
}
