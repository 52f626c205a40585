package transport

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the access-layer collectors. A nil *Metrics records nothing.
type Metrics struct {
	refreshTotal   *prometheus.CounterVec
	refreshWaiters prometheus.Gauge
	rotationTotal  prometheus.Counter
	authFailures   prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg (if non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_refresh_total",
			Help: "Refresh calls by result.",
		}, []string{"result"}),
		refreshWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_refresh_waiters",
			Help: "Requests currently waiting on a refresh.",
		}),
		rotationTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_rotation_total",
			Help: "Server-initiated credential rotations persisted.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_auth_failures_total",
			Help: "auth:failed signals published.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.refreshTotal, m.refreshWaiters, m.rotationTotal, m.authFailures)
	}
	return m
}

func (m *Metrics) refreshResult(result string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) waiters(delta float64) {
	if m == nil {
		return
	}
	m.refreshWaiters.Add(delta)
}

func (m *Metrics) rotation() {
	if m == nil {
		return
	}
	m.rotationTotal.Inc()
}

func (m *Metrics) authFailed() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}
