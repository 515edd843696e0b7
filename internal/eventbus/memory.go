package eventbus

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 64

// MemoryBus is an in-process Bus for single-instance deployments and tests.
// It never blocks an emitter: a subscription whose channel is full drops the
// event (§4.H at-most-once delivery).
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[string]*memSub // userID -> subID -> subscription
}

type memSub struct {
	filters []Filter
	c       chan *Event
}

// NewMemoryBus builds an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[string]*memSub)}
}

func (b *MemoryBus) Publish(_ context.Context, userID string, event *Event) error {
	busEventsPublished.WithLabelValues(event.Type).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[userID] {
		if !filtersMatch(sub.filters, event) {
			continue
		}
		select {
		case sub.c <- event:
		default:
			busEventsDropped.WithLabelValues(event.Type).Inc()
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(userID string, filters []Filter) (*Subscription, error) {
	id := uuid.New().String()
	sub := &memSub{filters: filters, c: make(chan *Event, subscriberBuffer)}

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[string]*memSub)
	}
	b.subs[userID][id] = sub
	b.mu.Unlock()
	busActiveSubscriptions.Inc()

	return &Subscription{
		ID:     id,
		UserID: userID,
		C:      sub.c,
		unsubscribe: func() {
			b.mu.Lock()
			if m, ok := b.subs[userID]; ok {
				if _, existed := m[id]; existed {
					delete(m, id)
					busActiveSubscriptions.Dec()
				}
				if len(m) == 0 {
					delete(b.subs, userID)
				}
			}
			b.mu.Unlock()
			close(sub.c)
		},
	}, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for userID, m := range b.subs {
		for id, sub := range m {
			close(sub.c)
			delete(m, id)
			busActiveSubscriptions.Dec()
		}
		delete(b.subs, userID)
	}
	return nil
}

func filtersMatch(filters []Filter, e *Event) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.matches(e) {
			return true
		}
	}
	return false
}

var _ Bus = (*MemoryBus)(nil)
