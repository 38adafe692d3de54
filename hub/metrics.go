package hub

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts hub traffic. A nil *Metrics records nothing.
type Metrics struct {
	connGauge      prometheus.Gauge
	deliveredTotal prometheus.Counter
	droppedTotal   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskboard",
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Connections currently registered with the hub.",
		}),
		deliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskboard",
			Subsystem: "hub",
			Name:      "events_delivered_total",
			Help:      "Events written to a connection.",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskboard",
			Subsystem: "hub",
			Name:      "events_dropped_total",
			Help:      "Events that could not be queued for a connection.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connGauge, m.deliveredTotal, m.droppedTotal)
	}
	return m
}

func (m *Metrics) connected() {
	if m != nil {
		m.connGauge.Inc()
	}
}

func (m *Metrics) disconnected() {
	if m != nil {
		m.connGauge.Dec()
	}
}

func (m *Metrics) delivered() {
	if m != nil {
		m.deliveredTotal.Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.droppedTotal.Inc()
	}
}
