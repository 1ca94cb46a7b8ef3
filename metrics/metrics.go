// Package metrics exposes the planner's Prometheus instrumentation: queue
// depth, task outcomes, and analyzer call latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the planner publishes. It implements
// both the task manager's MetricsSink and the analyzer supervisor's
// CallObserver.
type Metrics struct {
	queueDepth     prometheus.Gauge
	tasksProcessed prometheus.Counter
	tasksIgnored   prometheus.Counter
	taskRetries    prometheus.Counter
	analyzerCalls  *prometheus.HistogramVec
	watcherEvents  prometheus.Counter
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codeplanner_queue_depth",
			Help: "Number of tasks currently in the priority queue.",
		}),
		tasksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codeplanner_tasks_processed_total",
			Help: "Tasks retired as resolved, directly or indirectly.",
		}),
		tasksIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codeplanner_tasks_ignored_total",
			Help: "Tasks retired to the ignore list after exhausting retries.",
		}),
		taskRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codeplanner_task_retries_total",
			Help: "Retry attempts across all tasks.",
		}),
		analyzerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codeplanner_analyzer_call_duration_seconds",
			Help:    "Duration of analyzer Analyze calls by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"outcome"}),
		watcherEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codeplanner_watcher_events_total",
			Help: "Batches of file changes observed by the repo watcher.",
		}),
	}
	reg.MustRegister(
		m.queueDepth,
		m.tasksProcessed,
		m.tasksIgnored,
		m.taskRetries,
		m.analyzerCalls,
		m.watcherEvents,
	)
	return m
}

// SetQueueDepth records the current queue size.
func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// IncTasksProcessed counts a task retired as resolved.
func (m *Metrics) IncTasksProcessed() { m.tasksProcessed.Inc() }

// IncTasksIgnored counts a task retired to the ignore list.
func (m *Metrics) IncTasksIgnored() { m.tasksIgnored.Inc() }

// IncTaskRetries counts a retry attempt.
func (m *Metrics) IncTaskRetries() { m.taskRetries.Inc() }

// ObserveAnalyzeCall records one analyzer call's duration and outcome.
func (m *Metrics) ObserveAnalyzeCall(outcome string, d time.Duration) {
	m.analyzerCalls.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncWatcherEvents counts a batch of externally observed file changes.
func (m *Metrics) IncWatcherEvents() { m.watcherEvents.Inc() }
