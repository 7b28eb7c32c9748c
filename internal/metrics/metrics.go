// Package metrics exposes Prometheus collectors for the reservation and
// contribution engines and the broadcast hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeAccepted  = "accepted"
	OutcomeTruncated = "truncated"
	OutcomeRejected  = "rejected"
	OutcomeReleased  = "released"
	OutcomeError     = "error"
)

// Metrics groups every collector the service registers.
type Metrics struct {
	Reservations      *prometheus.CounterVec
	Contributions     *prometheus.CounterVec
	ContributedAmount prometheus.Counter
	LockRetries       prometheus.Counter
	EventsAppended    *prometheus.CounterVec
	HubSubscribers    prometheus.Gauge
	HubDropped        prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Pass a fresh prometheus.NewRegistry()
// in tests to avoid duplicate registration panics.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Reservations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wishlist_reservations_total",
			Help: "Reserve and release attempts by outcome.",
		}, []string{"outcome"}),
		Contributions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wishlist_contributions_total",
			Help: "Contribution attempts by outcome.",
		}, []string{"outcome"}),
		ContributedAmount: f.NewCounter(prometheus.CounterOpts{
			Name: "wishlist_contributed_amount_total",
			Help: "Sum of accepted contribution amounts.",
		}),
		LockRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "wishlist_lock_retries_total",
			Help: "Units of work retried after a lock timeout.",
		}),
		EventsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wishlist_events_appended_total",
			Help: "Committed realtime events by type.",
		}, []string{"type"}),
		HubSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "wishlist_hub_subscribers",
			Help: "Live realtime subscribers.",
		}),
		HubDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "wishlist_hub_dropped_total",
			Help: "Subscribers removed after a failed send or replay.",
		}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
