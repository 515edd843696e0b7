package hierarchy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/agentcore/internal/coreerr"
	"github.com/kandev/agentcore/internal/models"
	"github.com/kandev/agentcore/internal/store"
)

// SendMailboxInput mirrors a mailbox write. Exactly one of ToSessionID,
// ToUserID, ToHandle must be set; ToHandle is resolved to a user id here.
type SendMailboxInput struct {
	ToSessionID      string
	ToUserID         string
	ToHandle         string
	MessageType      string // notification | question | escalation | approval
	Content          string
	ContextSessionID string
	ContextTaskID    string
	ReplyToID        string
}

// SendMailbox resolves ToHandle (if set) to a user id and persists the
// entry. An unknown or ambiguous handle fails closed with UNKNOWN_RECIPIENT
// rather than silently dropping the message.
func (h *Hierarchy) SendMailbox(ctx context.Context, in SendMailboxInput) (*models.MailboxEntry, error) {
	toUserID := in.ToUserID
	if in.ToHandle != "" {
		resolved, err := h.store.ResolveHandle(ctx, in.ToHandle)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.NotFound, "UNKNOWN_RECIPIENT: resolving handle "+in.ToHandle, err)
		}
		if resolved == "" {
			return nil, coreerr.New(coreerr.NotFound, "UNKNOWN_RECIPIENT: handle "+in.ToHandle+" did not resolve")
		}
		toUserID = resolved
	}

	entry := &models.MailboxEntry{
		ID:               uuid.New().String(),
		ToSessionID:      in.ToSessionID,
		ToUserID:         toUserID,
		ToHandle:         in.ToHandle,
		MessageType:      in.MessageType,
		Content:          in.Content,
		ContextSessionID: in.ContextSessionID,
		ContextTaskID:    in.ContextTaskID,
		ReplyToID:        in.ReplyToID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.store.PutMailboxEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListMailbox returns recipient's mailbox entries without marking them read.
func (h *Hierarchy) ListMailbox(ctx context.Context, recipient store.MailboxRecipient, limit int, after *time.Time) ([]*models.MailboxEntry, error) {
	return h.store.ListMailbox(ctx, recipient, limit, after)
}

// ReadMailbox lists recipient's entries, read and unread alike, and marks the
// unread ones read in the same call, matching the store's read-then-mark
// contract. The
// list and the mark run inside one store.WithTx so two concurrent readers
// can never both observe the same unread rows before either marks them.
func (h *Hierarchy) ReadMailbox(ctx context.Context, recipient store.MailboxRecipient, limit int, after *time.Time) ([]*models.MailboxEntry, error) {
	var entries []*models.MailboxEntry
	err := h.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		entries, err = tx.ListMailbox(ctx, recipient, limit, after)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.ReadAt == nil {
				ids = append(ids, e.ID)
			}
		}
		if len(ids) > 0 {
			return tx.MarkRead(ctx, ids)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
