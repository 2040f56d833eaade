package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics, registered once on the default registry.
var (
	enrollmentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sequence_engine_enrollments_total",
		Help: "Due enrollments handled per batch run, by result",
	}, []string{"result"})

	stepsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sequence_engine_steps_sent_total",
		Help: "Step executions dispatched to a channel adapter, by channel",
	}, []string{"channel"})

	stepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sequence_engine_step_failures_total",
		Help: "Step executions that failed, by channel and failure class",
	}, []string{"channel", "class"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sequence_engine_run_duration_seconds",
		Help:    "Wall time of one scheduler batch run",
		Buckets: prometheus.DefBuckets,
	})

	dueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sequence_engine_due_backlog",
		Help: "Due enrollments found at the start of the last batch run",
	})
)
