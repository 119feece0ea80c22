package assessment

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const cleanupTimeout = 10 * time.Second

type assessmentMetrics struct {
	verdicts *prometheus.CounterVec
}

var (
	assessmentMetricsOnce sync.Once
	assessmentMetricsInst *assessmentMetrics
)

func globalAssessmentMetrics() *assessmentMetrics {
	assessmentMetricsOnce.Do(func() {
		assessmentMetricsInst = &assessmentMetrics{
			verdicts: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketforge",
				Subsystem: "assessment",
				Name:      "results_total",
				Help:      "Ticket assessments, labeled by outcome",
			}, []string{"outcome"}),
		}
	})
	return assessmentMetricsInst
}

func (m *assessmentMetrics) record(outcome string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(outcome).Inc()
}
