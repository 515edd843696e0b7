// Package memstore is an in-memory store.Store used by package tests that
// don't need a real database. It mirrors the sqlstore semantics (status
// transition checks, cascade unblock, hash-gated workflow swap) over plain
// maps guarded by a single mutex.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store"
)

// Store is an in-memory, single-process implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	sessions  map[string]*models.Session
	gitStates map[string]*models.SessionGitState
	messages  map[string]*models.Message

	tasks    map[string]*models.Task
	taskDeps map[string]map[string]struct{} // taskID -> set of dependsOnID

	mailbox  map[string]*models.MailboxEntry
	handles  map[string]string // handle -> userID

	workflows  map[string]*models.Workflow
	slugIndex  map[string]string // slug -> workflowID
	versions   map[string]*models.WorkflowVersion // key: workflowID+"/"+hash
	executions map[string]*models.WorkflowExecution
	traces     map[string]*models.StepTrace
	proposals  map[string]*models.WorkflowProposal
}

var _ store.Store = (*Store)(nil)

// New returns an empty memstore.Store.
func New() *Store {
	return &Store{
		sessions:   make(map[string]*models.Session),
		gitStates:  make(map[string]*models.SessionGitState),
		messages:   make(map[string]*models.Message),
		tasks:      make(map[string]*models.Task),
		taskDeps:   make(map[string]map[string]struct{}),
		mailbox:    make(map[string]*models.MailboxEntry),
		handles:    make(map[string]string),
		workflows:  make(map[string]*models.Workflow),
		slugIndex:  make(map[string]string),
		versions:   make(map[string]*models.WorkflowVersion),
		executions: make(map[string]*models.WorkflowExecution),
		traces:     make(map[string]*models.StepTrace),
		proposals:  make(map[string]*models.WorkflowProposal),
	}
}

func (s *Store) Close() error { return nil }

// WithTx runs fn directly against s: every memstore mutation already holds
// s.mu for its duration, so nesting is just a synchronous call.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return fn(ctx, s)
}

// SetHandle seeds an orchestrator handle -> user id mapping for tests.
func (s *Store) SetHandle(handle, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[handle] = userID
}

// --- sessions ---

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "session not found: "+id)
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return coreerr.New(coreerr.NotFound, "session not found: "+id)
	}
	if !models.CanTransition(sess.Status, status) {
		return coreerr.New(coreerr.Conflict, "illegal session transition")
	}
	sess.Status = status
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sess.ID]
	if !ok {
		return coreerr.New(coreerr.NotFound, "session not found: "+sess.ID)
	}
	existing.Title = sess.Title
	existing.ModelPref = sess.ModelPref
	existing.Metadata = sess.Metadata
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListChildSessions(ctx context.Context, parentID string) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Session
	for _, sess := range s.sessions {
		if sess.ParentID == parentID {
			cp := *sess
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListAncestorIDs(ctx context.Context, id string, maxDepth int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ancestors []string
	visited := map[string]bool{id: true}
	cur := id
	for i := 0; i < maxDepth; i++ {
		sess, ok := s.sessions[cur]
		if !ok || sess.ParentID == "" {
			break
		}
		if visited[sess.ParentID] {
			return nil, coreerr.New(coreerr.Conflict, "session parent cycle detected at "+sess.ParentID)
		}
		visited[sess.ParentID] = true
		ancestors = append(ancestors, sess.ParentID)
		cur = sess.ParentID
	}
	return ancestors, nil
}

func (s *Store) PutGitState(ctx context.Context, g *models.SessionGitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.gitStates[g.SessionID] = &cp
	return nil
}

func (s *Store) GetGitState(ctx context.Context, sessionID string) (*models.SessionGitState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gitStates[sessionID]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "git state not found: "+sessionID)
	}
	cp := *g
	return &cp, nil
}

// --- messages ---

func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int, after *time.Time) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var result []*models.Message
	for _, m := range s.messages {
		if m.SessionID != sessionID {
			continue
		}
		if after != nil && !m.CreatedAt.After(*after) {
			continue
		}
		cp := *m
		result = append(result, &cp)
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
