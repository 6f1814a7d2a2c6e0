package authclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels recorded by Metrics.
const (
	OutcomeValid       = "valid"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
	OutcomeCacheHit    = "cache_hit"
)

// Metrics records validation outcomes and round-trip latency. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	outcomes *prometheus.CounterVec
	latency  prometheus.Histogram
}

// NewMetrics registers the validator collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_validation_total",
			Help: "Token validations by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auth_validation_duration_seconds",
			Help:    "Round-trip latency of remote token validation.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes, m.latency)
	}
	return m
}

func (m *Metrics) outcome(label string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(label).Inc()
}

func (m *Metrics) observe(d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(d.Seconds())
}

func outcomeOf(v Verdict) string {
	switch {
	case v.Valid:
		return OutcomeValid
	case v.IsUnavailable():
		return OutcomeUnavailable
	default:
		return OutcomeInvalid
	}
}
