package ticketsync

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type syncMetrics struct {
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	tickets  *prometheus.CounterVec
}

var (
	syncMetricsOnce sync.Once
	syncMetricsInst *syncMetrics
)

func globalSyncMetrics() *syncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetricsInst = &syncMetrics{
			runs: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketforge",
				Subsystem: "ticket_sync",
				Name:      "runs_total",
				Help:      "Project syncs, labeled by result",
			}, []string{"result"}),
			duration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "ticketforge",
				Subsystem: "ticket_sync",
				Name:      "run_duration_seconds",
				Help:      "Duration of one project sync",
				Buckets:   prometheus.DefBuckets,
			}),
			tickets: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketforge",
				Subsystem: "ticket_sync",
				Name:      "tickets_total",
				Help:      "Tickets written by sync, labeled by action",
			}, []string{"action"}),
		}
	})
	return syncMetricsInst
}

func (m *syncMetrics) recordRun(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *syncMetrics) recordTickets(added, updated int) {
	if m == nil {
		return
	}
	m.tickets.WithLabelValues("added").Add(float64(added))
	m.tickets.WithLabelValues("updated").Add(float64(updated))
}
