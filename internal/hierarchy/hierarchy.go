// Package hierarchy implements session spawning, cross-session messaging,
// and parent notification (§4.D). Cycle prevention and cross-user
// authorization live here rather than in internal/session, since they need
// the ancestor chain and both endpoints' owning users, not just one actor's
// own state.
package hierarchy

import (
	"context"

	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/session"
	"github.com/kandev/agentcore/internal/store"
)

// maxAncestorDepth bounds the ancestor-chain walk used for cycle detection,
// guarding against a corrupted parentId chain turning a lookup into an
// unbounded traversal.
const maxAncestorDepth = 1000

// Hierarchy wires the session Registry to the store for spawn/message/notify
// operations that span more than one session's actor.
type Hierarchy struct {
	store    store.Store
	registry *session.Registry
	log      *logger.Logger
}

// New builds a Hierarchy over the given registry and store.
func New(st store.Store, registry *session.Registry, log *logger.Logger) *Hierarchy {
	return &Hierarchy{store: st, registry: registry, log: log.WithFields(zap.String("component", "hierarchy"))}
}

// SpawnChildInput mirrors spawnChild's parameters.
type SpawnChildInput struct {
	ParentID   string
	Task       string
	Workspace  string
	RepoURL    string
	Branch     string
	SourceType string
	Model      string
}

// SpawnChild creates a new session whose parentId is set atomically with
// creation, inheriting the parent's user by reference. The child is left in
// `pending` status; callers start it explicitly.
func (h *Hierarchy) SpawnChild(ctx context.Context, in SpawnChildInput) (string, error) {
	parent, err := h.store.GetSession(ctx, in.ParentID)
	if err != nil {
		return "", err
	}

	// Cycle prevention: a fresh child id can never already appear in its own
	// ancestor chain, but we still walk the parent's chain to catch a
	// corrupted parentId loop before it's extended any further.
	if _, err := h.store.ListAncestorIDs(ctx, in.ParentID, maxAncestorDepth); err != nil {
		return "", coreerr.Wrap(coreerr.Conflict, "resolving ancestor chain for cycle check", err)
	}

	actor, err := h.registry.CreateSession(ctx, parent.UserID, in.ParentID, in.Workspace, in.Task, models.PurposeChild)
	if err != nil {
		return "", err
	}

	if in.RepoURL != "" {
		if err := h.store.PutGitState(ctx, &models.SessionGitState{
			SessionID:  actor.ID(),
			SourceType: in.SourceType,
			RepoURL:    in.RepoURL,
			Branch:     in.Branch,
		}); err != nil {
			return "", err
		}
	}

	h.log.Info("spawned child session", zap.String("parent_id", in.ParentID), zap.String("child_id", actor.ID()))
	return actor.ID(), nil
}

// SessionMessage delivers a user-role message to targetID's actor.
// Authorization: the caller must either share a user with the target, or be
// one of the target's ancestors (an orchestrator messaging a descendant it
// spawned transitively).
func (h *Hierarchy) SessionMessage(ctx context.Context, callerSessionID, targetID, content string, interrupt bool) error {
	caller, err := h.store.GetSession(ctx, callerSessionID)
	if err != nil {
		return err
	}
	target, err := h.store.GetSession(ctx, targetID)
	if err != nil {
		return err
	}

	if caller.UserID != target.UserID {
		ancestors, err := h.store.ListAncestorIDs(ctx, targetID, maxAncestorDepth)
		if err != nil {
			return err
		}
		if !contains(ancestors, callerSessionID) {
			return coreerr.New(coreerr.Forbidden, "caller does not own or ancestor-own the target session")
		}
	}

	actor, err := h.registry.Get(ctx, targetID)
	if err != nil {
		return err
	}
	_, err = actor.Prompt(ctx, session.PromptInput{Content: content, Interrupt: interrupt})
	return err
}

// NotifyParent is a thin wrapper around SessionMessage addressed at the
// caller's own parentId.
func (h *Hierarchy) NotifyParent(ctx context.Context, childSessionID, content string) error {
	child, err := h.store.GetSession(ctx, childSessionID)
	if err != nil {
		return err
	}
	if child.ParentID == "" {
		return coreerr.New(coreerr.Conflict, "session has no parent to notify")
	}
	return h.SessionMessage(ctx, childSessionID, child.ParentID, content, false)
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}
