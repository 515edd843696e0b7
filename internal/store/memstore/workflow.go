package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
)

func (s *Store) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	if w.CurrentVersion == 0 {
		w.CurrentVersion = 1
	}
	cp := *w
	s.workflows[w.ID] = &cp
	s.slugIndex[w.Slug] = w.ID
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "workflow not found")
	}
	cp := *w
	return &cp, nil
}

func (s *Store) GetWorkflowBySlug(ctx context.Context, slug string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.slugIndex[slug]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "workflow not found")
	}
	cp := *s.workflows[id]
	return &cp, nil
}

// SwapWorkflowHash is the memstore counterpart of sqlstore's compare-and-swap
// UPDATE: it only advances current_hash if no concurrent writer beat us to
// expectedHash.
func (s *Store) SwapWorkflowHash(ctx context.Context, workflowID, expectedHash, newHash string, newVersion int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[workflowID]
	if !ok {
		return false, coreerr.New(coreerr.NotFound, "workflow not found")
	}
	if w.CurrentHash != expectedHash {
		return false, nil
	}
	w.CurrentHash = newHash
	w.CurrentVersion = newVersion
	return true, nil
}

func (s *Store) PutWorkflowVersion(ctx context.Context, v *models.WorkflowVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	cp := *v
	s.versions[v.WorkflowID+"/"+v.Hash] = &cp
	return nil
}

func (s *Store) GetWorkflowVersion(ctx context.Context, workflowID, hash string) (*models.WorkflowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[workflowID+"/"+hash]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "workflow version not found: "+hash)
	}
	cp := *v
	return &cp, nil
}

func (s *Store) CreateExecution(ctx context.Context, e *models.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cp := *e
	s.executions[e.ID] = &cp
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "execution not found: "+id)
	}
	cp := *e
	return &cp, nil
}

func (s *Store) UpdateExecution(ctx context.Context, e *models.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.executions[e.ID]
	if !ok {
		return coreerr.New(coreerr.NotFound, "execution not found: "+e.ID)
	}
	existing.Status = e.Status
	existing.Variables = e.Variables
	existing.Error = e.Error
	existing.ResumeToken = e.ResumeToken
	existing.RequiresApproval = e.RequiresApproval
	existing.CompletedAt = e.CompletedAt
	return nil
}

func (s *Store) AppendStepTrace(ctx context.Context, t *models.StepTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := *t
	s.traces[t.ID] = &cp
	return nil
}

func (s *Store) ListStepTraces(ctx context.Context, executionID string, limit int) ([]*models.StepTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var result []*models.StepTrace
	for _, t := range s.traces {
		if t.ExecutionID == executionID {
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
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateProposal(ctx context.Context, p *models.WorkflowProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	s.proposals[p.ID] = &cp
	return nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (*models.WorkflowProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "proposal not found: "+id)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpdateProposal(ctx context.Context, p *models.WorkflowProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.proposals[p.ID]
	if !ok {
		return coreerr.New(coreerr.NotFound, "proposal not found: "+p.ID)
	}
	existing.Status = p.Status
	existing.ReviewNotes = p.ReviewNotes
	return nil
}

func (s *Store) ListExpiredProposals(ctx context.Context, asOf time.Time) ([]*models.WorkflowProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.WorkflowProposal
	for _, p := range s.proposals {
		if p.Status == models.ProposalDraft && p.ExpiresAt != nil && !p.ExpiresAt.After(asOf) {
			cp := *p
			result = append(result, &cp)
		}
	}
	return result, nil
}
