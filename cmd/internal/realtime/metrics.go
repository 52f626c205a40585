package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds realtime collectors. A nil *Metrics records nothing.
type Metrics struct {
	state      prometheus.Gauge
	reconnects prometheus.Counter
	events     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg (if non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_realtime_state",
			Help: "Current connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed).",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_realtime_reconnects_total",
			Help: "Automatic reconnect attempts scheduled.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_realtime_events_total",
			Help: "Inbound realtime envelopes by type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.reconnects, m.events)
	}
	return m
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) event(typ string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(typ).Inc()
}
