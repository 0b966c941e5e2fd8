package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsAppended         *prometheus.CounterVec
	IssueRefused           *prometheus.CounterVec
	CheckoutDuration       prometheus.Histogram
	PartialCheckouts       prometheus.Counter
	ActiveGuestCredentials prometheus.Gauge
}

// New registers the ledger metrics on reg. Tests pass a fresh
// prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keyledger_events_appended_total",
			Help: "Credential events appended, by lifecycle state",
		}, []string{"state"}),
		IssueRefused: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keyledger_issue_refused_total",
			Help: "Issue requests refused by the ledger, by reason",
		}, []string{"reason"}),
		CheckoutDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "keyledger_checkout_duration_seconds",
			Help:    "Duration of room checkout including credential termination",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		PartialCheckouts: f.NewCounter(prometheus.CounterOpts{
			Name: "keyledger_partial_checkouts_total",
			Help: "Checkouts where the room was vacated but credentials were left active",
		}),
		ActiveGuestCredentials: f.NewGauge(prometheus.GaugeOpts{
			Name: "keyledger_active_guest_credentials",
			Help: "Guest credential chains effectively active at the last sample",
		}),
	}
}

// The helpers below accept a nil receiver so services can run without
// metrics in tests.

func (m *Metrics) IncEventAppended(state string) {
	if m == nil {
		return
	}
	m.EventsAppended.WithLabelValues(state).Inc()
}

func (m *Metrics) IncIssueRefused(reason string) {
	if m == nil {
		return
	}
	m.IssueRefused.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveCheckout(start time.Time) {
	if m == nil {
		return
	}
	m.CheckoutDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncPartialCheckout() {
	if m == nil {
		return
	}
	m.PartialCheckouts.Inc()
}

func (m *Metrics) SetActiveGuests(n int) {
	if m == nil {
		return
	}
	m.ActiveGuestCredentials.Set(float64(n))
}
