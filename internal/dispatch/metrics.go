package dispatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type dispatchMetrics struct {
	queued    *prometheus.CounterVec
	rejects   *prometheus.CounterVec
	handled   *prometheus.CounterVec
	durations *prometheus.HistogramVec
	dead      prometheus.Counter
}

var (
	dispatchMetricsOnce sync.Once
	dispatchMetricsInst *dispatchMetrics
)

func globalDispatchMetrics() *dispatchMetrics {
	dispatchMetricsOnce.Do(func() {
		dispatchMetricsInst = &dispatchMetrics{
			queued: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketforge",
				Subsystem: "dispatch",
				Name:      "enqueued_total",
				Help:      "Tasks accepted by a dispatcher, labeled by kind and backend",
			}, []string{"kind", "backend"}),
			rejects: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketforge",
				Subsystem: "dispatch",
				Name:      "rejected_total",
				Help:      "Tasks a dispatcher could not accept",
			}, []string{"kind", "backend"}),
			handled: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketforge",
				Subsystem: "dispatch",
				Name:      "handled_total",
				Help:      "Tasks run by workers, labeled by kind and result",
			}, []string{"kind", "backend", "status"}),
			durations: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ticketforge",
				Subsystem: "dispatch",
				Name:      "task_duration_seconds",
				Help:      "Task handler duration",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
			dead: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "ticketforge",
				Subsystem: "dispatch",
				Name:      "dead_lettered_total",
				Help:      "Tasks moved to the dead-letter list",
			}),
		}
	})
	return dispatchMetricsInst
}

func (m *dispatchMetrics) enqueued(kind Kind, backend string) {
	if m == nil {
		return
	}
	m.queued.WithLabelValues(string(kind), backend).Inc()
}

func (m *dispatchMetrics) rejected(kind Kind, backend string) {
	if m == nil {
		return
	}
	m.rejects.WithLabelValues(string(kind), backend).Inc()
}

func (m *dispatchMetrics) started(kind Kind, backend string) func(error) {
	if m == nil {
		return func(error) {}
	}
	timer := prometheus.NewTimer(m.durations.WithLabelValues(string(kind)))
	return func(err error) {
		timer.ObserveDuration()
		status := "success"
		if err != nil {
			status = "failure"
		}
		m.handled.WithLabelValues(string(kind), backend, status).Inc()
	}
}

func (m *dispatchMetrics) deadLettered() {
	if m == nil {
		return
	}
	m.dead.Inc()
}
