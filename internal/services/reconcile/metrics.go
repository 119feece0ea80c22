package reconcile

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type reconcileMetrics struct {
	outcomes *prometheus.CounterVec
}

var (
	reconcileMetricsOnce sync.Once
	reconcileMetricsInst *reconcileMetrics
)

func globalReconcileMetrics() *reconcileMetrics {
	reconcileMetricsOnce.Do(func() {
		reconcileMetricsInst = &reconcileMetrics{
			outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketforge",
				Subsystem: "reconcile",
				Name:      "checks_total",
				Help:      "Reconcile checks, labeled by outcome status",
			}, []string{"status"}),
		}
	})
	return reconcileMetricsInst
}

func (m *reconcileMetrics) record(status Status) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(status)).Inc()
}
