package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"sync"
)

var (
	ErrorsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_errors_total",
			Help: "Total number of occurred errors.",
		},
		[]string{"type"},
	)
	UpdatesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_requirement_updates_total",
			Help: "Total number of requirement updates by outcome.",
		},
		[]string{"outcome"},
	)
	UpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracker_requirement_update_duration_seconds",
			Help:    "Duration of a conflict checked requirement update.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
	ClaimEventsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_claim_events_total",
			Help: "Total number of claim events by kind.",
		},
		[]string{"kind"},
	)
	ActiveClaims = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_active_claims",
			Help: "Number of requirements currently being worked on, as seen by the last audit.",
		},
	)
	InvariantViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_invariant_violations_total",
			Help: "Rows found by the auditor breaking a claim invariant.",
		},
		[]string{"invariant"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ErrorsCounter)
		prometheus.MustRegister(UpdatesCounter)
		prometheus.MustRegister(UpdateDuration)
		prometheus.MustRegister(ClaimEventsCounter)
		prometheus.MustRegister(ActiveClaims)
		prometheus.MustRegister(InvariantViolations)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
