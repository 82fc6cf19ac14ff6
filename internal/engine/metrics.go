package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wanbridge_generations_total",
			Help: "Total number of generation runs by terminal status.",
		},
		[]string{"status", "variant"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "wanbridge_generation_duration_seconds",
			Help: "Wall-clock generation duration in seconds.",
			// Video generation runs minutes, not milliseconds.
			Buckets: []float64{5, 15, 30, 60, 120, 240, 480, 600, 900},
		},
		[]string{"status", "variant"},
	)

	artifactResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wanbridge_artifact_resolutions_total",
			Help: "Artifact resolutions by confidence (history or scan).",
		},
		[]string{"confidence"},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal)
	prometheus.MustRegister(generationDuration)
	prometheus.MustRegister(artifactResolutions)
}

// observeGeneration records the terminal status and duration of one run.
func observeGeneration(status, variant string, elapsed time.Duration) {
	generationsTotal.WithLabelValues(status, variant).Inc()
	generationDuration.WithLabelValues(status, variant).Observe(elapsed.Seconds())
}
