package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
)

func schemaSessions(driver string) string {
	return `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		parent_id TEXT DEFAULT '',
		workspace TEXT NOT NULL,
		title TEXT DEFAULT '',
		status TEXT NOT NULL,
		purpose TEXT NOT NULL,
		model_pref TEXT DEFAULT '',
		metadata TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_parent_id ON sessions(parent_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS session_git_states (
		session_id TEXT PRIMARY KEY,
		source_type TEXT DEFAULT '',
		repo_url TEXT DEFAULT '',
		branch TEXT DEFAULT '',
		ref TEXT DEFAULT '',
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	metadata, err := json.Marshal(sess.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sessions (id, user_id, parent_id, workspace, title, status, purpose, model_pref, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), sess.ID, sess.UserID, sess.ParentID, sess.Workspace, sess.Title, sess.Status, sess.Purpose, sess.ModelPref, string(metadata), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess := &models.Session{}
	var metadata string
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, user_id, parent_id, workspace, title, status, purpose, model_pref, metadata, created_at, updated_at
		FROM sessions WHERE id = ?
	`), id).Scan(&sess.ID, &sess.UserID, &sess.ParentID, &sess.Workspace, &sess.Title, &sess.Status, &sess.Purpose, &sess.ModelPref, &metadata, &sess.CreatedAt, &sess.UpdatedAt)
	if isNoRows(err) {
		return nil, coreerr.New(coreerr.NotFound, "session not found: "+id)
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(metadata), &sess.Metadata)
	return sess, nil
}

// UpdateSessionStatus enforces the state-machine transition and persists it.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if !models.CanTransition(current.Status, status) {
		return coreerr.New(coreerr.Conflict, fmt.Sprintf("illegal session transition %s -> %s", current.Status, status))
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`), status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return coreerr.New(coreerr.NotFound, "session not found: "+id)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *models.Session) error {
	sess.UpdatedAt = time.Now().UTC()
	metadata, err := json.Marshal(sess.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE sessions SET title = ?, model_pref = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`), sess.Title, sess.ModelPref, string(metadata), sess.UpdatedAt, sess.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return coreerr.New(coreerr.NotFound, "session not found: "+sess.ID)
	}
	return nil
}

func (s *Store) ListChildSessions(ctx context.Context, parentID string) ([]*models.Session, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, user_id, parent_id, workspace, title, status, purpose, model_pref, metadata, created_at, updated_at
		FROM sessions WHERE parent_id = ? ORDER BY created_at
	`), parentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSessions(rows)
}

// ListAncestorIDs walks the parent_id chain up to maxDepth hops, returning
// ids from the immediate parent outward. Used to enforce cycle prevention
// on spawn (§9: bounded BFS with a visited set).
func (s *Store) ListAncestorIDs(ctx context.Context, id string, maxDepth int) ([]string, error) {
	var ancestors []string
	visited := map[string]bool{id: true}
	cur := id
	for i := 0; i < maxDepth; i++ {
		var parentID string
		err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`SELECT parent_id FROM sessions WHERE id = ?`), cur).Scan(&parentID)
		if isNoRows(err) || parentID == "" {
			break
		}
		if err != nil {
			return nil, err
		}
		if visited[parentID] {
			return nil, coreerr.New(coreerr.Conflict, "session parent cycle detected at "+parentID)
		}
		visited[parentID] = true
		ancestors = append(ancestors, parentID)
		cur = parentID
	}
	return ancestors, nil
}

func scanSessions(rows interface{ Next() bool; Scan(...any) error; Err() error }) ([]*models.Session, error) {
	var result []*models.Session
	for rows.Next() {
		sess := &models.Session{}
		var metadata string
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.ParentID, &sess.Workspace, &sess.Title, &sess.Status, &sess.Purpose, &sess.ModelPref, &metadata, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(metadata), &sess.Metadata)
		result = append(result, sess)
	}
	return result, rows.Err()
}

func (s *Store) PutGitState(ctx context.Context, g *models.SessionGitState) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO session_git_states (session_id, source_type, repo_url, branch, ref)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET source_type = excluded.source_type, repo_url = excluded.repo_url, branch = excluded.branch, ref = excluded.ref
	`), g.SessionID, g.SourceType, g.RepoURL, g.Branch, g.Ref)
	return err
}

func (s *Store) GetGitState(ctx context.Context, sessionID string) (*models.SessionGitState, error) {
	g := &models.SessionGitState{}
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT session_id, source_type, repo_url, branch, ref FROM session_git_states WHERE session_id = ?
	`), sessionID).Scan(&g.SessionID, &g.SourceType, &g.RepoURL, &g.Branch, &g.Ref)
	if isNoRows(err) {
		return nil, coreerr.New(coreerr.NotFound, "git state not found: "+sessionID)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}
