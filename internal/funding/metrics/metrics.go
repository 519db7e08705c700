package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons for contributions.
const (
	ReasonInsufficient = "insufficient"
	ReasonOracle       = "oracle_unavailable"
	ReasonInvalid      = "invalid"
	ReasonStore        = "store"
)

// Withdrawal outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeEmpty         = "empty"
	OutcomeNotController = "not_controller"
	OutcomeConflict      = "conflict"
	OutcomePayoutFailed  = "payout_failed"
	OutcomeError         = "error"
)

// Metrics holds Prometheus metrics for the funding pool. All methods are
// safe on a nil receiver.
type Metrics struct {
	ContributionsAccepted prometheus.Counter
	ContributionsRejected *prometheus.CounterVec
	Withdrawals           *prometheus.CounterVec
	PoolBalance           prometheus.Gauge
	Contributors          prometheus.Gauge
	LastWithdrawn         prometheus.Gauge
	OracleLatency         prometheus.Histogram
}

// New creates and registers the funding metrics.
func New() *Metrics {
	return &Metrics{
		ContributionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fundpool_contributions_accepted_total",
			Help: "Total number of contributions recorded in the ledger",
		}),
		ContributionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fundpool_contributions_rejected_total",
			Help: "Total number of contributions rejected, by reason",
		}, []string{"reason"}),
		Withdrawals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fundpool_withdrawals_total",
			Help: "Total number of withdrawal attempts, by outcome",
		}, []string{"outcome"}),
		PoolBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fundpool_pool_balance_native",
			Help: "Pool balance in native units (approximate, for dashboards)",
		}),
		Contributors: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fundpool_contributors",
			Help: "Number of distinct contributors in the current cycle",
		}),
		LastWithdrawn: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fundpool_last_withdrawal_native",
			Help: "Amount drained by the most recent successful withdrawal",
		}),
		OracleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fundpool_oracle_request_duration_seconds",
			Help:    "Latency of price oracle reads",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) IncAccepted() {
	if m == nil {
		return
	}
	m.ContributionsAccepted.Inc()
}

func (m *Metrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.ContributionsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncWithdrawal(outcome string) {
	if m == nil {
		return
	}
	m.Withdrawals.WithLabelValues(outcome).Inc()
}

// SetPool records the pool size after a ledger change.
func (m *Metrics) SetPool(balance float64, contributors int) {
	if m == nil {
		return
	}
	m.PoolBalance.Set(balance)
	m.Contributors.Set(float64(contributors))
}

func (m *Metrics) SetLastWithdrawn(amount float64) {
	if m == nil {
		return
	}
	m.LastWithdrawn.Set(amount)
}

func (m *Metrics) ObserveOracleLatency(seconds float64) {
	if m == nil {
		return
	}
	m.OracleLatency.Observe(seconds)
}
