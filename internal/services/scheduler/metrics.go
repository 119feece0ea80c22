package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goatkit/ticketforge/internal/services/ticketsync"
)

type schedulerMetrics struct {
	runs          *prometheus.CounterVec
	durations     *prometheus.HistogramVec
	sweepProjects prometheus.Gauge
	sweepFailed   prometheus.Gauge
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetricsInst *schedulerMetrics
)

func globalSchedulerMetrics() *schedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetricsInst = newSchedulerMetrics()
	})
	return schedulerMetricsInst
}

func newSchedulerMetrics() *schedulerMetrics {
	return &schedulerMetrics{
		runs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketforge",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions, labeled by job and result",
		}, []string{"job", "result"}),
		durations: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ticketforge",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		sweepProjects: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticketforge",
			Subsystem: "scheduler",
			Name:      "sync_sweep_projects",
			Help:      "Projects visited by the latest sync sweep",
		}),
		sweepFailed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticketforge",
			Subsystem: "scheduler",
			Name:      "sync_sweep_failed_projects",
			Help:      "Projects that failed in the latest sync sweep",
		}),
	}
}

func (m *schedulerMetrics) recordRun(job string) func(error) {
	if m == nil {
		return func(error) {}
	}
	timer := prometheus.NewTimer(m.durations.WithLabelValues(job))
	return func(err error) {
		timer.ObserveDuration()
		result := "success"
		if err != nil {
			result = "failure"
		}
		m.runs.WithLabelValues(job, result).Inc()
	}
}

func (m *schedulerMetrics) recordSweep() func(*ticketsync.SweepResult) {
	if m == nil {
		return func(*ticketsync.SweepResult) {}
	}
	return func(res *ticketsync.SweepResult) {
		if res == nil {
			return
		}
		m.sweepProjects.Set(float64(res.Projects))
		m.sweepFailed.Set(float64(len(res.Failed)))
	}
}
