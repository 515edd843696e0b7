package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store"
)

func schemaMailbox(driver string) string {
	return `
	CREATE TABLE IF NOT EXISTS mailbox_entries (
		id TEXT PRIMARY KEY,
		to_session_id TEXT DEFAULT '',
		to_user_id TEXT DEFAULT '',
		message_type TEXT NOT NULL,
		content TEXT NOT NULL,
		context_session_id TEXT DEFAULT '',
		context_task_id TEXT DEFAULT '',
		reply_to_id TEXT DEFAULT '',
		read_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mailbox_to_session ON mailbox_entries(to_session_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_mailbox_to_user ON mailbox_entries(to_user_id, created_at, id);

	CREATE TABLE IF NOT EXISTS orchestrator_handles (
		handle TEXT PRIMARY KEY,
		user_id TEXT NOT NULL
	);
	`
}

func (s *Store) PutMailboxEntry(ctx context.Context, e *models.MailboxEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO mailbox_entries (id, to_session_id, to_user_id, message_type, content, context_session_id, context_task_id, reply_to_id, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.ToSessionID, e.ToUserID, e.MessageType, e.Content, e.ContextSessionID, e.ContextTaskID, e.ReplyToID, e.ReadAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("put mailbox entry: %w", err)
	}
	return nil
}

func (s *Store) ListMailbox(ctx context.Context, recipient store.MailboxRecipient, limit int, after *time.Time) ([]*models.MailboxEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	var column, value string
	switch {
	case recipient.SessionID != "":
		column, value = "to_session_id", recipient.SessionID
	case recipient.UserID != "":
		column, value = "to_user_id", recipient.UserID
	default:
		return nil, coreerr.New(coreerr.Validation, "mailbox recipient must set SessionID or UserID")
	}

	query := `
		SELECT id, to_session_id, to_user_id, message_type, content, context_session_id, context_task_id, reply_to_id, read_at, created_at
		FROM mailbox_entries WHERE ` + column + ` = ?`
	args := []any{value}
	if after != nil {
		query += ` AND created_at > ?`
		args = append(args, *after)
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.MailboxEntry
	for rows.Next() {
		e := &models.MailboxEntry{}
		var readAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.ToSessionID, &e.ToUserID, &e.MessageType, &e.Content, &e.ContextSessionID, &e.ContextTaskID, &e.ReplyToID, &readAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		if readAt.Valid {
			e.ReadAt = &readAt.Time
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// MarkRead atomically flips read_at for the given ids, read-then-update
// within a single statement so a concurrent caller can't observe a partial
// mark (§4.D: "read-then-update in one transaction").
func (s *Store) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE mailbox_entries SET read_at = ? WHERE id IN (%s) AND read_at IS NULL`, placeholders)
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

// ResolveHandle resolves an orchestrator handle to a user id, failing
// closed with coreerr.NotFound (surfaced by callers as UNKNOWN_RECIPIENT).
func (s *Store) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var userID string
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`SELECT user_id FROM orchestrator_handles WHERE handle = ?`), handle).Scan(&userID)
	if isNoRows(err) {
		return "", coreerr.New(coreerr.NotFound, "unknown recipient handle: "+handle)
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}
