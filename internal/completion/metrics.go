package completion

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type clientMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	retries  *prometheus.CounterVec
}

var (
	clientMetricsOnce sync.Once
	clientMetricsInst *clientMetrics
)

func globalClientMetrics() *clientMetrics {
	clientMetricsOnce.Do(func() {
		clientMetricsInst = &clientMetrics{
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketforge",
				Subsystem: "completion",
				Name:      "requests_total",
				Help:      "Completion API requests, labeled by model and result",
			}, []string{"model", "result"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ticketforge",
				Subsystem: "completion",
				Name:      "request_duration_seconds",
				Help:      "Completion API request latency",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			}, []string{"model"}),
			retries: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketforge",
				Subsystem: "completion",
				Name:      "attempts_total",
				Help:      "Retrier attempts, labeled by outcome",
			}, []string{"outcome"}),
		}
	})
	return clientMetricsInst
}

func (m *clientMetrics) observe(model string) func(result string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	return func(result string) {
		m.requests.WithLabelValues(model, result).Inc()
		m.latency.WithLabelValues(model).Observe(time.Since(start).Seconds())
	}
}

func (m *clientMetrics) recordAttempt(outcome string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(outcome).Inc()
}
