// Package metrics holds the Prometheus collectors for job intake and training.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "modeltrain"

	outcomeLabel = "outcome"
	statusLabel  = "status"

	// Submission outcomes.
	OutcomeAccepted = "accepted"
	OutcomeEmpty    = "empty"
	OutcomeStaging  = "staging_failed"
	OutcomeDispatch = "dispatch_failed"
)

var JobsSubmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_submitted_total",
		Help:      "Number of dataset submissions partitioned by intake outcome.",
	},
	[]string{outcomeLabel},
)

var JobsFinished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Number of training jobs that reached a terminal status.",
	},
	[]string{statusLabel},
)

var JobDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Time spent processing one work item.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	},
)

var JobsInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_in_flight",
		Help:      "Number of work items currently being processed by this worker.",
	},
)

var QueueRedeliveries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_redeliveries_total",
		Help:      "Number of unacknowledged work items moved back to the pending queue.",
	},
)

func IncreaseJobsSubmitted(outcome string) {
	JobsSubmitted.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func IncreaseJobsFinished(status string) {
	JobsFinished.With(prometheus.Labels{statusLabel: status}).Inc()
}

// TrackJob marks a job in flight and returns a func that records its duration.
func TrackJob() func() {
	start := time.Now()
	JobsInFlight.Inc()
	return func() {
		JobsInFlight.Dec()
		JobDuration.Observe(time.Since(start).Seconds())
	}
}

func AddRedeliveries(n int) {
	QueueRedeliveries.Add(float64(n))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(JobsInFlight)
	prometheus.MustRegister(QueueRedeliveries)
}
