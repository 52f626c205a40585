package devserver

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	rotations     prometheus.Counter
	wsSessions    prometheus.Gauge
	notifications *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_dev_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_dev_refresh_total",
			Help: "Refresh attempts by result.",
		}, []string{"result"}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_dev_rotations_total",
			Help: "Server-initiated rotations sent in response headers.",
		}),
		wsSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_dev_ws_sessions",
			Help: "Open realtime sessions.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_dev_notifications_total",
			Help: "Notifications created, by delivery outcome.",
		}, []string{"delivery"}),
	}
	if reg != nil {
		reg.MustRegister(m.logins, m.refreshes, m.rotations, m.wsSessions, m.notifications)
	}
	return m
}
