package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks referral lifecycle activity. A nil *Metrics is a no-op.
type Metrics struct {
	ReferralsCreated    prometheus.Counter
	Transitions         *prometheus.CounterVec
	TransitionsRejected *prometheus.CounterVec
	AttachmentFailures  prometheus.Counter
	FeedDeliveries      *prometheus.CounterVec
	FeedSubscribers     prometheus.Gauge
	TransitionDuration  prometheus.Histogram
}

// New registers the referral metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ReferralsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "refportal_referrals_created_total",
			Help: "Total number of referrals created (one per selected job)",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refportal_status_transitions_total",
			Help: "Committed referral status transitions",
		}, []string{"from", "to"}),
		TransitionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refportal_status_transitions_rejected_total",
			Help: "Transitions refused before reaching the store",
		}, []string{"reason"}),
		AttachmentFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "refportal_attachment_failures_total",
			Help: "Resume uploads skipped while creating referrals",
		}),
		FeedDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refportal_feed_deliveries_total",
			Help: "Change notifications handed to subscribers",
		}, []string{"outcome"}),
		FeedSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "refportal_feed_subscribers",
			Help: "Open change feed subscriptions",
		}),
		TransitionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "refportal_transition_duration_seconds",
			Help:    "Duration of status transitions including commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncReferralsCreated(n int) {
	if m == nil {
		return
	}
	m.ReferralsCreated.Add(float64(n))
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncTransitionRejected(reason string) {
	if m == nil {
		return
	}
	m.TransitionsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncAttachmentFailure() {
	if m == nil {
		return
	}
	m.AttachmentFailures.Inc()
}

// IncFeedDelivery records outcome "delivered" or "coalesced".
func (m *Metrics) IncFeedDelivery(outcome string) {
	if m == nil {
		return
	}
	m.FeedDeliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddFeedSubscribers(delta float64) {
	if m == nil {
		return
	}
	m.FeedSubscribers.Add(delta)
}

// ObserveTransition records the duration since start.
func (m *Metrics) ObserveTransition(start time.Time) {
	if m == nil {
		return
	}
	m.TransitionDuration.Observe(time.Since(start).Seconds())
}
