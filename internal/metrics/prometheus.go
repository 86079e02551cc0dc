package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal counts finished tasks by language and outcome.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grader_tasks_total",
			Help: "Total number of judged tasks",
		},
		[]string{"language", "outcome"},
	)

	// TaskDuration tracks end-to-end task processing time in seconds.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grader_task_duration_seconds",
			Help:    "Duration of task processing in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"language"},
	)

	// TestDuration tracks the wall clock time of single test runs.
	TestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grader_test_duration_seconds",
			Help:    "Wall clock duration of one test run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"language"},
	)

	// WorkersActive tracks the number of currently active workers.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grader_workers_active",
			Help: "Number of workers currently processing a task",
		},
	)

	// SandboxFailures counts runs that could not be started or observed (not user code errors).
	SandboxFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grader_sandbox_failures_total",
			Help: "Total number of sandbox infrastructure failures",
		},
	)

	// StoreRetries counts retried calls to external stores by operation.
	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grader_store_retries_total",
			Help: "Total number of retried external store calls",
		},
		[]string{"op"},
	)

	// ReportFailures counts comparative reports that could not be produced.
	ReportFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grader_report_failures_total",
			Help: "Total number of failed comparative reports",
		},
	)

	// NotifyFailures counts notifications that could not be delivered.
	NotifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grader_notify_failures_total",
			Help: "Total number of failed notifications",
		},
	)
)
