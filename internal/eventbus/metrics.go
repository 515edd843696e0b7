package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	busEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_eventbus_events_published_total",
			Help: "Total events accepted by Publish, by event type",
		},
		[]string{"type"},
	)

	busEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_eventbus_events_dropped_total",
			Help: "Total events dropped because a subscriber channel was full",
		},
		[]string{"type"},
	)

	busActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentcore_eventbus_active_subscriptions",
		Help: "Current number of live event bus subscriptions",
	})
)
