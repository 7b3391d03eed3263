package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crewlink",
			Name:      "active_connections",
			Help:      "Currently registered realtime sessions.",
		},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crewlink",
			Name:      "events_total",
			Help:      "Inbound events by kind.",
		},
		[]string{"kind"},
	)

	messagesPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crewlink",
			Name:      "messages_persisted_total",
			Help:      "Chat messages durably appended.",
		},
	)

	deliveriesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crewlink",
			Name:      "deliveries_dropped_total",
			Help:      "Per-recipient sends dropped because the outbound queue was full.",
		},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crewlink",
			Name:      "booking_transitions_total",
			Help:      "Accepted booking status transitions by target status.",
		},
		[]string{"status"},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crewlink",
			Name:      "notification_dispatch_total",
			Help:      "External notification dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			activeConnections,
			eventsTotal,
			messagesPersisted,
			deliveriesDropped,
			transitionsTotal,
			dispatchTotal,
		)
	})
}

func ConnectionOpened() { activeConnections.Inc() }

func ConnectionClosed() { activeConnections.Dec() }

func IncEvent(kind string) { eventsTotal.WithLabelValues(kind).Inc() }

func MessagePersisted() { messagesPersisted.Inc() }

func DeliveryDropped() { deliveriesDropped.Inc() }

// Transition records an accepted booking transition into status.
func Transition(status string) { transitionsTotal.WithLabelValues(status).Inc() }

// Dispatch records an external dispatch attempt outcome ("ok" or "error").
func Dispatch(outcome string) { dispatchTotal.WithLabelValues(outcome).Inc() }
