package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store"
)

func (s *Store) PutMailboxEntry(ctx context.Context, e *models.MailboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cp := *e
	s.mailbox[e.ID] = &cp
	return nil
}

func (s *Store) ListMailbox(ctx context.Context, recipient store.MailboxRecipient, limit int, after *time.Time) ([]*models.MailboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	if recipient.SessionID == "" && recipient.UserID == "" {
		return nil, coreerr.New(coreerr.Validation, "mailbox recipient must set SessionID or UserID")
	}

	var result []*models.MailboxEntry
	for _, e := range s.mailbox {
		match := (recipient.SessionID != "" && e.ToSessionID == recipient.SessionID) ||
			(recipient.UserID != "" && e.ToUserID == recipient.UserID)
		if !match {
			continue
		}
		if after != nil && !e.CreatedAt.After(*after) {
			continue
		}
		cp := *e
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

func (s *Store) MarkRead(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		if e, ok := s.mailbox[id]; ok && e.ReadAt == nil {
			e.ReadAt = &now
		}
	}
	return nil
}

func (s *Store) ResolveHandle(ctx context.Context, handle string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.handles[handle]
	if !ok {
		return "", coreerr.New(coreerr.NotFound, "unknown recipient handle: "+handle)
	}
	return userID, nil
}
