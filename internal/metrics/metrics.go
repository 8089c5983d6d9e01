// Package metrics exposes Prometheus collectors for engine building and execution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ncnnbridge_build_duration_seconds",
		Help:    "Time spent building the cached engine layer",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	BuildErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ncnnbridge_build_errors_total",
		Help: "Total number of failed engine builds",
	}, []string{"reason"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ncnnbridge_run_duration_seconds",
		Help:    "Duration of one copy-in, forward, copy-out cycle",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"op"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ncnnbridge_runs_total",
		Help: "Total number of Run calls",
	}, []string{"op", "status"})

	CopiedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ncnnbridge_copied_bytes_total",
		Help: "Bytes moved across the host/engine boundary",
	}, []string{"direction"})
)

// Copy directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// RecordBuild records a successful engine build.
func RecordBuild(op string, d time.Duration) {
	BuildDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordBuildError counts a failed engine build.
func RecordBuildError(reason string) {
	BuildErrors.WithLabelValues(reason).Inc()
}

// RecordRun records one Run call.
func RecordRun(op string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RunsTotal.WithLabelValues(op, status).Inc()
	if err == nil {
		RunDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}

// RecordCopy adds bytes copied in the given direction.
func RecordCopy(direction string, bytes int) {
	CopiedBytes.WithLabelValues(direction).Add(float64(bytes))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
