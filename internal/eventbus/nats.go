package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/config"
	"github.com/kandev/agentcore/internal/common/logger"
)

// NATSBus implements Bus over a shared NATS connection, partitioning
// subjects by user id so the bus can scale horizontally across instances
// sharing one NATS deployment. Each user id gets at most one underlying NATS
// subscription per process; local subscribers fan out from it, matching the
// same at-most-once/per-subscription-channel semantics as MemoryBus.
type NATSBus struct {
	conn      *nats.Conn
	log       *logger.Logger
	namespace string

	mu   sync.Mutex
	subs map[string]*userFanout // userID -> fanout
}

type userFanout struct {
	natsSub   *nats.Subscription
	listeners map[string]*memSub
}

// NewNATSBus connects to NATS with the teacher's reconnection policy and
// returns a Bus ready to publish/subscribe.
func NewNATSBus(cfg config.NATSConfig, events config.EventsConfig, log *logger.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(5 * 1024 * 1024),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("nats connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("nats error", zap.Error(err), zap.String("subject", subject))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	ns := events.Namespace
	if ns == "" {
		ns = "agentcore"
	}
	log.Info("connected to nats", zap.String("url", cfg.URL))
	return &NATSBus{
		conn:      conn,
		log:       log,
		namespace: ns,
		subs:      make(map[string]*userFanout),
	}, nil
}

func (b *NATSBus) subject(userID string) string {
	return b.namespace + ".events." + userID
}

func (b *NATSBus) Publish(_ context.Context, userID string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	busEventsPublished.WithLabelValues(event.Type).Inc()
	if err := b.conn.Publish(b.subject(userID), data); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(userID string, filters []Filter) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fanout, ok := b.subs[userID]
	if !ok {
		fanout = &userFanout{listeners: make(map[string]*memSub)}
		sub, err := b.conn.Subscribe(b.subject(userID), b.dispatch(userID))
		if err != nil {
			return nil, fmt.Errorf("subscribing to %s: %w", b.subject(userID), err)
		}
		fanout.natsSub = sub
		b.subs[userID] = fanout
	}

	id := uuid.New().String()
	listener := &memSub{filters: filters, c: make(chan *Event, subscriberBuffer)}
	fanout.listeners[id] = listener
	busActiveSubscriptions.Inc()

	return &Subscription{
		ID:     id,
		UserID: userID,
		C:      listener.c,
		unsubscribe: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			f, ok := b.subs[userID]
			if !ok {
				return
			}
			if _, existed := f.listeners[id]; !existed {
				return
			}
			delete(f.listeners, id)
			busActiveSubscriptions.Dec()
			close(listener.c)
			if len(f.listeners) == 0 {
				if err := f.natsSub.Unsubscribe(); err != nil {
					b.log.Warn("unsubscribing nats subject", zap.Error(err))
				}
				delete(b.subs, userID)
			}
		},
	}, nil
}

// dispatch fans an incoming NATS message out to every local listener whose
// filters match, dropping on a full channel rather than blocking the NATS
// callback goroutine.
func (b *NATSBus) dispatch(userID string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.log.Error("unmarshaling event", zap.Error(err), zap.String("subject", msg.Subject))
			return
		}

		b.mu.Lock()
		fanout, ok := b.subs[userID]
		if !ok {
			b.mu.Unlock()
			return
		}
		listeners := make([]*memSub, 0, len(fanout.listeners))
		for _, l := range fanout.listeners {
			listeners = append(listeners, l)
		}
		b.mu.Unlock()

		for _, l := range listeners {
			if !filtersMatch(l.filters, &event) {
				continue
			}
			select {
			case l.c <- &event:
			default:
				busEventsDropped.WithLabelValues(event.Type).Inc()
			}
		}
	}
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	for userID, fanout := range b.subs {
		for id, l := range fanout.listeners {
			close(l.c)
			delete(fanout.listeners, id)
			busActiveSubscriptions.Dec()
		}
		if err := fanout.natsSub.Unsubscribe(); err != nil {
			b.log.Warn("unsubscribing nats subject on close", zap.Error(err))
		}
		delete(b.subs, userID)
	}
	b.mu.Unlock()
	return b.conn.Drain()
}

var _ Bus = (*NATSBus)(nil)
