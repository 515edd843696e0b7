package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kandev/agentcore/internal/models"
)

func schemaMessages(driver string) string {
	return `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		channel_type TEXT DEFAULT '',
		channel_id TEXT DEFAULT '',
		tool_call TEXT DEFAULT '{}',
		forward_from TEXT DEFAULT '',
		edit_of TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at, id);
	`
}

// AppendMessage inserts an immutable message. Per §3 messages are totally
// ordered by (createdAt, id); callers must assign a monotonic id (e.g. a
// UUIDv7 or ULID) for this ordering to hold under concurrent writers.
func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	toolCall, err := json.Marshal(m.ToolCall)
	if err != nil {
		toolCall = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO messages (id, session_id, role, content, channel_type, channel_id, tool_call, forward_from, edit_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), m.ID, m.SessionID, m.Role, m.Content, m.ChannelType, m.ChannelID, string(toolCall), m.ForwardFrom, m.EditOf, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int, after *time.Time) ([]*models.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	query := `
		SELECT id, session_id, role, content, channel_type, channel_id, tool_call, forward_from, edit_of, created_at
		FROM messages WHERE session_id = ?`
	args := []any{sessionID}
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

	var result []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var toolCall string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ChannelType, &m.ChannelID, &toolCall, &m.ForwardFrom, &m.EditOf, &m.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(toolCall), &m.ToolCall)
		result = append(result, m)
	}
	return result, rows.Err()
}
