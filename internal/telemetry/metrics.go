// Package telemetry holds the process-wide Prometheus instruments.
// They are registered on the default registry and exposed by the API
// server's /metrics handler.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal counts terminal task outcomes by status.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelsync_tasks_total",
		Help: "Terminal task outcomes by status.",
	}, []string{"status"})

	// SchedulerCycles counts scheduler loop cycles, by result.
	SchedulerCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelsync_scheduler_cycles_total",
		Help: "Scheduler loop cycles by result (ok|error).",
	}, []string{"result"})

	// Dispatched counts pipeline runner dispatches.
	Dispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelsync_dispatched_total",
		Help: "Pipeline runner dispatches.",
	})

	// RunnersInFlight tracks concurrently executing pipeline runners.
	RunnersInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelsync_runners_in_flight",
		Help: "Concurrently executing pipeline runners.",
	})

	// PublishAttempts counts publish-stage attempts, including retries.
	PublishAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelsync_publish_attempts_total",
		Help: "Publish-stage attempts including retries.",
	})

	// FeedEntries counts entries appended to the event feed.
	FeedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelsync_feed_entries_total",
		Help: "Entries appended to the event feed.",
	})
)
