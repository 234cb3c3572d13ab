package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pulse"

type Metrics struct {
	Deliveries          *prometheus.CounterVec
	OnlineUsers         prometheus.Gauge
	Sessions            prometheus.Gauge
	PersistenceFailures *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so runs do not collide on the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Live delivery attempts by event kind and result.",
		}, []string{"kind", "result"}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with a live session binding.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Open transport sessions, identified or not.",
		}),
		PersistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Durable store calls that failed, by operation.",
		}, []string{"op"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Deliveries, m.OnlineUsers, m.Sessions, m.PersistenceFailures)
	return m
}

// Handler returns an http.Handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
