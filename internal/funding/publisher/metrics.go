package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the event feed. A nil *Metrics is a
// valid no-op collector.
type Metrics struct {
	Published    *prometheus.CounterVec
	Failed       prometheus.Counter
	Dropped      prometheus.Counter
	BreakerState prometheus.Gauge
	Latency      prometheus.Histogram
}

// NewMetrics creates and registers the event feed metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fundpool_events_published_total",
			Help: "Total number of ledger events acknowledged by the brokers",
		}, []string{"type"}),
		Failed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fundpool_events_failed_total",
			Help: "Total number of ledger events the brokers rejected or timed out",
		}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fundpool_events_circuit_breaker_dropped_total",
			Help: "Total number of ledger events dropped while the circuit was open",
		}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fundpool_events_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
		Latency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fundpool_events_produce_duration_seconds",
			Help:    "Time from produce call to broker acknowledgement",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncPublished(eventType string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncFailed() {
	if m == nil {
		return
	}
	m.Failed.Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
		return
	}
	m.BreakerState.Set(0)
}

func (m *Metrics) ObserveLatency(seconds float64) {
	if m == nil {
		return
	}
	m.Latency.Observe(seconds)
}
