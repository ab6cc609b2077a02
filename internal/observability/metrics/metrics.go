package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for conversation turns and tool calls.
type EngineMetrics struct {
	turnsTotal       *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
	toolCallsTotal   *prometheus.CounterVec
	toolLatency      *prometheus.HistogramVec
	governorTotal    *prometheus.CounterVec
	escalationsTotal *prometheus.CounterVec
	conflictsTotal   prometheus.Counter
	queueDepth       prometheus.Gauge
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Processed conversation turns",
		}, []string{"journey", "outcome"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "engine",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of a conversation turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"journey"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool contract invocations",
		}, []string{"tool", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "tools",
			Name:      "call_latency_seconds",
			Help:      "Latency of tool contract invocations",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		}, []string{"tool"}),
		governorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "governor",
			Name:      "decisions_total",
			Help:      "Governor outcomes by class",
		}, []string{"class", "outcome"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "escalation",
			Name:      "total",
			Help:      "Escalations by reason and ticket result",
		}, []string{"reason", "ticket"}),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "state",
			Name:      "conflicts_total",
			Help:      "Optimistic-concurrency conflicts on state persist",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "concierge",
			Subsystem: "dispatcher",
			Name:      "queued_turns",
			Help:      "Turns waiting behind an in-flight turn for the same conversation",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.turnLatency, m.toolCallsTotal, m.toolLatency,
		m.governorTotal, m.escalationsTotal, m.conflictsTotal, m.queueDepth)
	return m
}

func (m *EngineMetrics) ObserveTurn(journey, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(journey, outcome).Inc()
	m.turnLatency.WithLabelValues(journey).Observe(seconds)
}

func (m *EngineMetrics) ObserveToolCall(tool, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(seconds)
}

func (m *EngineMetrics) ObserveGovernor(class, outcome string) {
	if m == nil {
		return
	}
	m.governorTotal.WithLabelValues(class, outcome).Inc()
}

func (m *EngineMetrics) ObserveEscalation(reason string, ticketCreated bool) {
	if m == nil {
		return
	}
	label := "failed"
	if ticketCreated {
		label = "created"
	}
	m.escalationsTotal.WithLabelValues(reason, label).Inc()
}

func (m *EngineMetrics) ObserveStateConflict() {
	if m == nil {
		return
	}
	m.conflictsTotal.Inc()
}

func (m *EngineMetrics) AddQueued(delta int) {
	if m == nil {
		return
	}
	m.queueDepth.Add(float64(delta))
}
