package splitter

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type splitterMetrics struct {
	splits *prometheus.CounterVec
	jobs   prometheus.Histogram
}

var (
	splitterMetricsOnce sync.Once
	splitterMetricsInst *splitterMetrics
)

func globalSplitterMetrics() *splitterMetrics {
	splitterMetricsOnce.Do(func() {
		splitterMetricsInst = &splitterMetrics{
			splits: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketforge",
				Subsystem: "splitter",
				Name:      "splits_total",
				Help:      "Ticket splits, labeled by outcome",
			}, []string{"outcome"}),
			jobs: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "ticketforge",
				Subsystem: "splitter",
				Name:      "jobs_per_ticket",
				Help:      "Number of jobs created per split ticket",
				Buckets:   []float64{0, 1, 2, 3, 4, 5, 8, 13},
			}),
		}
	})
	return splitterMetricsInst
}

func (m *splitterMetrics) record(outcome string, jobs int) {
	if m == nil {
		return
	}
	m.splits.WithLabelValues(outcome).Inc()
	if outcome == "created" {
		m.jobs.Observe(float64(jobs))
	}
}
