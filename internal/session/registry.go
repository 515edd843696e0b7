package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/eventbus"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/sandbox"
	"github.com/kandev/agentcore/internal/store"
)

// Registry maps session id to its live actor, spawning one on first access
// (§4.A). A sync.Map would do for the hot path, but plain map+mutex keeps
// the spawn-if-absent check atomic without a double lookup.
type Registry struct {
	store store.Store
	bus   eventbus.Bus
	sb    *sandbox.Supervisor
	log   *logger.Logger

	mu     sync.Mutex
	actors map[string]*Actor
}

// NewRegistry builds a Registry over the given dependencies.
func NewRegistry(st store.Store, bus eventbus.Bus, sb *sandbox.Supervisor, log *logger.Logger) *Registry {
	return &Registry{
		store:  st,
		bus:    bus,
		sb:     sb,
		log:    log.WithFields(),
		actors: make(map[string]*Actor),
	}
}

// CreateSession persists a new session row with the given parameters and
// spawns its actor in `pending` status. Cycle prevention for parentID is the
// caller's responsibility (internal/hierarchy owns spawnChild semantics).
func (r *Registry) CreateSession(ctx context.Context, userID, parentID, workspace, title string, purpose models.SessionPurpose) (*Actor, error) {
	s := &models.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		ParentID:  parentID,
		Workspace: workspace,
		Title:     title,
		Status:    models.SessionPending,
		Purpose:   purpose,
		Metadata:  map[string]any{},
	}
	if err := r.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	a := newActor(s, r.store, r.bus, r.sb, r.log)
	r.actors[s.ID] = a
	return a, nil
}

// Get returns the live actor for sessionID, spawning one from the persisted
// row if it isn't already tracked (e.g. after a control-plane restart).
func (r *Registry) Get(ctx context.Context, sessionID string) (*Actor, error) {
	r.mu.Lock()
	if a, ok := r.actors[sessionID]; ok {
		r.mu.Unlock()
		return a, nil
	}
	r.mu.Unlock()

	s, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[sessionID]; ok {
		return a, nil
	}
	a := newActor(s, r.store, r.bus, r.sb, r.log)
	r.actors[sessionID] = a
	return a, nil
}

// Peek returns the already-spawned actor for sessionID without touching the
// store, used by callers (the runner WS handshake handler) that need to
// know whether a session is actually live before accepting a connection.
func (r *Registry) Peek(sessionID string) (*Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[sessionID]
	return a, ok
}

// Remove drops sessionID's actor from the registry. Callers should only do
// this after a successful Terminate.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actors, sessionID)
}

// Terminate looks up and terminates sessionID's actor, then removes it from
// the registry on success.
func (r *Registry) Terminate(ctx context.Context, sessionID string) error {
	a, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := a.Terminate(ctx); err != nil {
		return err
	}
	r.Remove(sessionID)
	return nil
}

// ErrNotTracked is returned by Peek-style lookups that expect a live actor.
var ErrNotTracked = coreerr.New(coreerr.NotFound, "session actor not tracked")
