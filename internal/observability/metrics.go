package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects hub and transport metrics.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.ConnectionOpened()
//	metrics.EnvelopeBroadcast("posted", delivered, dropped, closed)
type Metrics struct {
	// ConnectionsActive is the number of registered connections.
	ConnectionsActive prometheus.Gauge

	// ConnectionsOpened counts AddConnection calls.
	ConnectionsOpened prometheus.Counter

	// ConnectionsForcedClosed counts forced terminations.
	// Labels: reason (slow_consumer|heartbeat_timeout|write_failed|shutdown)
	ConnectionsForcedClosed *prometheus.CounterVec

	// EnvelopesBroadcast counts accepted broadcasts.
	// Labels: event
	EnvelopesBroadcast *prometheus.CounterVec

	// EnvelopesRejected counts broadcasts refused for an unknown event type.
	EnvelopesRejected prometheus.Counter

	// EnvelopesDelivered counts envelopes placed on an outbound queue.
	EnvelopesDelivered prometheus.Counter

	// EnvelopesDropped counts envelopes not placed on an outbound queue.
	// Labels: reason (queue_full|closed)
	EnvelopesDropped *prometheus.CounterVec

	// BroadcastFanout observes how many connections one broadcast reached.
	BroadcastFanout prometheus.Histogram

	// PresenceTransitions counts emitted status changes.
	// Labels: status (online|away|offline)
	PresenceTransitions *prometheus.CounterVec

	// Handshakes counts websocket authentication outcomes.
	// Labels: result (ok|unauthorized|bad_frame|timeout|too_many_connections|upgrade_failed)
	Handshakes *prometheus.CounterVec

	// InboundEvents counts domain events taken from the message bus.
	// Labels: topic, result (ok|error)
	InboundEvents *prometheus.CounterVec
}

// NewMetrics registers every collector on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "gochat_hub_connections_active",
			Help: "Number of connections currently registered with the hub",
		}),
		ConnectionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "gochat_hub_connections_opened_total",
			Help: "Total number of connections added to the hub",
		}),
		ConnectionsForcedClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_hub_connections_forced_closed_total",
			Help: "Total number of connections terminated by the hub",
		}, []string{"reason"}),
		EnvelopesBroadcast: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_hub_envelopes_broadcast_total",
			Help: "Total number of envelopes accepted for broadcast",
		}, []string{"event"}),
		EnvelopesRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "gochat_hub_envelopes_rejected_total",
			Help: "Total number of envelopes rejected at broadcast",
		}),
		EnvelopesDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "gochat_hub_envelopes_delivered_total",
			Help: "Total number of envelopes enqueued on a connection",
		}),
		EnvelopesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_hub_envelopes_dropped_total",
			Help: "Total number of envelopes a target connection did not accept",
		}, []string{"reason"}),
		BroadcastFanout: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gochat_hub_broadcast_fanout",
			Help:    "Connections reached per broadcast",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),
		PresenceTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_hub_presence_transitions_total",
			Help: "Total number of status_change events emitted",
		}, []string{"status"}),
		Handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_hub_handshakes_total",
			Help: "Websocket authentication handshakes by result",
		}, []string{"result"}),
		InboundEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_hub_inbound_events_total",
			Help: "Domain events consumed from the message bus",
		}, []string{"topic", "result"}),
	}
}

// ConnectionOpened counts a registered connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsOpened.Inc()
	m.ConnectionsActive.Inc()
}

// ConnectionClosed counts a deregistered connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// ForcedClose counts a connection closed by the hub for reason.
func (m *Metrics) ForcedClose(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsForcedClosed.WithLabelValues(reason).Inc()
}

// EnvelopeBroadcast records one accepted broadcast and its outcome counts.
func (m *Metrics) EnvelopeBroadcast(event string, delivered, dropped, closed int) {
	if m == nil {
		return
	}
	m.EnvelopesBroadcast.WithLabelValues(event).Inc()
	m.EnvelopesDelivered.Add(float64(delivered))
	if dropped > 0 {
		m.EnvelopesDropped.WithLabelValues("queue_full").Add(float64(dropped))
	}
	if closed > 0 {
		m.EnvelopesDropped.WithLabelValues("closed").Add(float64(closed))
	}
	m.BroadcastFanout.Observe(float64(delivered))
}

// EnvelopeRejected counts a broadcast refused before fan-out.
func (m *Metrics) EnvelopeRejected() {
	if m == nil {
		return
	}
	m.EnvelopesRejected.Inc()
}

// PresenceTransition counts an emitted status change.
func (m *Metrics) PresenceTransition(status string) {
	if m == nil {
		return
	}
	m.PresenceTransitions.WithLabelValues(status).Inc()
}

// Handshake counts a websocket handshake by result.
func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.Handshakes.WithLabelValues(result).Inc()
}

// InboundEvent counts a consumed Kafka message by topic and outcome.
func (m *Metrics) InboundEvent(topic string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.InboundEvents.WithLabelValues(topic, result).Inc()
}
