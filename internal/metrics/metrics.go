// Package metrics provides Prometheus metrics for clustering runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "centroid"

var (
	// RunsTotal counts finished runs by outcome: converged, exhausted or failed.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total clustering runs by outcome",
		},
		[]string{"outcome"},
	)

	// RunsInFlight tracks runs currently executing.
	RunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Clustering runs currently executing",
		},
	)

	// RunIterations observes the iteration count of completed runs.
	RunIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_iterations",
			Help:      "Iterations per completed clustering run",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// RunDuration observes wall time of runs in seconds.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Clustering run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	// DatasetsStored counts datasets written, labelled by whether they were new.
	DatasetsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datasets_stored_total",
			Help:      "Datasets submitted, by whether they were new or deduplicated",
		},
		[]string{"result"},
	)
)
