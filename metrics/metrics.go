// Package metrics exports Prometheus instrumentation for sluice components.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the sluice metric set on its own registry. A nil
// *Collector is valid and records nothing, so instrumentation stays optional.
type Collector struct {
	reg *prometheus.Registry

	tasksEnqueued    prometheus.Counter
	tasksClaimed     prometheus.Counter
	tasksCompleted   prometheus.Counter
	tasksFailed      prometheus.Counter
	tasksReclaimed   prometheus.Counter
	duplicateSignals prometheus.Counter

	handlerDuration prometheus.Histogram
	tasksPending    prometheus.Gauge
}

// NewCollector creates and registers the metric set.
func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		tasksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sluice_tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		}),
		tasksClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sluice_tasks_claimed_total",
			Help: "Total number of tasks claimed by workers",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sluice_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sluice_tasks_failed_total",
			Help: "Total number of failed task attempts",
		}),
		tasksReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sluice_tasks_reclaimed_total",
			Help: "Total number of stale pending entries reclaimed",
		}),
		duplicateSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sluice_duplicate_signals_total",
			Help: "Total number of duplicate completion signals absorbed during fan-in",
		}),
		handlerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sluice_handler_duration_seconds",
			Help:    "Handler execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sluice_tasks_pending",
			Help: "Current number of entries in the watched pending entry lists",
		}),
	}

	c.reg.MustRegister(c.tasksEnqueued)
	c.reg.MustRegister(c.tasksClaimed)
	c.reg.MustRegister(c.tasksCompleted)
	c.reg.MustRegister(c.tasksFailed)
	c.reg.MustRegister(c.tasksReclaimed)
	c.reg.MustRegister(c.duplicateSignals)
	c.reg.MustRegister(c.handlerDuration)
	c.reg.MustRegister(c.tasksPending)

	return c
}

// Handler serves the collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// RecordEnqueued records a task appended to a work stream.
func (c *Collector) RecordEnqueued() {
	if c == nil {
		return
	}
	c.tasksEnqueued.Inc()
}

// RecordClaimed records a task delivered to a worker.
func (c *Collector) RecordClaimed() {
	if c == nil {
		return
	}
	c.tasksClaimed.Inc()
}

// RecordCompleted records a successful task with its handler latency.
func (c *Collector) RecordCompleted(d time.Duration) {
	if c == nil {
		return
	}
	c.tasksCompleted.Inc()
	c.handlerDuration.Observe(d.Seconds())
}

// RecordFailed records a failed task attempt.
func (c *Collector) RecordFailed() {
	if c == nil {
		return
	}
	c.tasksFailed.Inc()
}

// RecordReclaimed records stale pending entries reclaimed by the janitor.
func (c *Collector) RecordReclaimed(n int) {
	if c == nil {
		return
	}
	c.tasksReclaimed.Add(float64(n))
}

// RecordDuplicateSignal records a duplicate completion signal absorbed by
// fan-in dedup.
func (c *Collector) RecordDuplicateSignal() {
	if c == nil {
		return
	}
	c.duplicateSignals.Inc()
}

// SetPending updates the pending-entry gauge.
func (c *Collector) SetPending(n int) {
	if c == nil {
		return
	}
	c.tasksPending.Set(float64(n))
}
