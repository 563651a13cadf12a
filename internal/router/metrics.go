package router

import "github.com/prometheus/client_golang/prometheus"

var (
	inferenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "inference",
			Name:      "requests_total",
			Help:      "Inference requests by type, backend and outcome",
		},
		[]string{"type", "backend", "outcome"},
	)

	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelgate",
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Backend dispatch duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"type", "backend"},
	)

	inferenceInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "modelgate",
			Subsystem: "inference",
			Name:      "inflight_requests",
			Help:      "In-flight inference requests per tenant",
		},
		[]string{"tenant"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "inference",
			Name:      "rejections_total",
			Help:      "Requests rejected before dispatch",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(inferenceTotal, inferenceDuration, inferenceInflight, rejectionsTotal)
}
