package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus collectors of the runtime.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Operations          *prometheus.CounterVec
	NodeVisits          *prometheus.CounterVec
	IterationLimits     *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	Subscribers         prometheus.Gauge
	DroppedMessages     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered, which suits tests that read values directly.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_operations_total",
				Help: "Total number of operations handled, by outcome",
			},
			[]string{"op", "outcome"},
		),
		NodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_node_visits_total",
				Help: "Total number of accepted node entries",
			},
			[]string{"node_id"},
		),
		IterationLimits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_iteration_limit_rejections_total",
				Help: "Node entries rejected because the iteration bound was reached",
			},
			[]string{"node_id"},
		),
		PersistenceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_persistence_failures_total",
				Help: "Snapshot writes or trace appends that failed and were swallowed",
			},
			[]string{"op"},
		),
		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentrun_subscribers",
				Help: "Live notification subscribers",
			},
		),
		DroppedMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_dropped_messages_total",
				Help: "Notification messages dropped by the overflow policy",
			},
			[]string{"policy"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.Operations,
			m.NodeVisits,
			m.IterationLimits,
			m.PersistenceFailures,
			m.Subscribers,
			m.DroppedMessages,
		)
	}
	return m
}

// ObserveOperation counts one operation with its outcome ("ok", "rejected", "error").
func (m *Metrics) ObserveOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
}

// ObserveVisit counts an accepted node entry.
func (m *Metrics) ObserveVisit(nodeID string) {
	if m == nil {
		return
	}
	m.NodeVisits.WithLabelValues(nodeID).Inc()
}

// ObserveIterationLimit counts a rejected node entry.
func (m *Metrics) ObserveIterationLimit(nodeID string) {
	if m == nil {
		return
	}
	m.IterationLimits.WithLabelValues(nodeID).Inc()
}

// ObservePersistenceFailure counts a swallowed store error. op is "append" or "snapshot".
func (m *Metrics) ObservePersistenceFailure(op string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) subscriberAdded() {
	if m == nil {
		return
	}
	m.Subscribers.Inc()
}

func (m *Metrics) subscriberRemoved() {
	if m == nil {
		return
	}
	m.Subscribers.Dec()
}

func (m *Metrics) messageDropped(policy OverflowPolicy) {
	if m == nil {
		return
	}
	m.DroppedMessages.WithLabelValues(policy.String()).Inc()
}
