// Package eventbus fans out session and workflow events to subscribed
// clients, keyed by (userId, filters) rather than by free subject pattern.
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a single fan-out notification. Subject identifies what the event
// is about (e.g. a session or execution id); ordering is guaranteed only
// across events sharing the same Subject (§4.H, §5).
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Subject   string         `json:"subject"`
	Payload   map[string]any `json:"payload"`
}

// NewEvent stamps a new event with a random id and the current time.
func NewEvent(eventType, subject string, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Subject:   subject,
		Payload:   payload,
	}
}

// Filter narrows a subscription to events matching Type (exact, empty
// matches any) and Subject (exact, empty matches any).
type Filter struct {
	Type    string
	Subject string
}

func (f Filter) matches(e *Event) bool {
	if f.Type != "" && f.Type != e.Type {
		return false
	}
	if f.Subject != "" && f.Subject != e.Subject {
		return false
	}
	return true
}

// Subscription is a live registration returned by Subscribe. Events arrive
// on C; the caller must drain it and call Unsubscribe when done.
type Subscription struct {
	ID     string
	UserID string
	C      <-chan *Event

	unsubscribe func()
}

// Unsubscribe deregisters the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.unsubscribe()
}

// Bus is the fan-out contract every component publishes through and every
// WS gateway subscriber reads from.
type Bus interface {
	// Publish delivers event to every subscription of userID whose filters
	// match. Delivery is at-most-once per subscription (§4.H): a full
	// subscriber channel drops the event rather than blocking the emitter.
	Publish(ctx context.Context, userID string, event *Event) error
	Subscribe(userID string, filters []Filter) (*Subscription, error)
	Close() error
}
