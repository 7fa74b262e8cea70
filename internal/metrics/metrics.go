// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Polls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayd",
		Name:      "detector_polls_total",
		Help:      "Detector poll ticks by detector kind.",
	}, []string{"kind"})

	Detections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayd",
		Name:      "detections_total",
		Help:      "Detection events fired by detector kind.",
	}, []string{"kind"})

	EvaluateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relayd",
		Name:      "evaluate_duration_seconds",
		Help:      "Round-trip latency of remote evaluations.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relayd",
		Name:      "reconnects_total",
		Help:      "Automatic reconnect attempts.",
	})

	Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relayd",
		Name:      "workspace_evictions_total",
		Help:      "Workspaces torn down after reconnect exhaustion.",
	})

	ResponsesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayd",
		Name:      "responses_completed_total",
		Help:      "Monitored responses reaching a terminal phase.",
	}, []string{"phase"})
)

// RegisterDispatchDepth exports the live count of queued callback tasks.
// Re-registration is a no-op so the service can be rebuilt in-process.
func RegisterDispatchDepth(depth func() float64) {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "relayd",
		Name:      "dispatch_depth",
		Help:      "Callback tasks queued or running across all chains.",
	}, depth)
	_ = prometheus.Register(g)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
