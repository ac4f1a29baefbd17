// Package metrics exposes the Prometheus collectors for the backtest
// service. Collectors are package-level and registered once in init();
// business code increments them directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SimulationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_simulations_total",
			Help: "Completed simulation runs by kind (single, portfolio, batch) and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	SimulationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dca_simulation_duration_seconds",
			Help:    "Wall-clock duration of simulation runs by kind.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"kind"},
	)

	BatchCombinationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dca_batch_combinations_total",
			Help: "Total parameter combinations executed by the batch runner.",
		},
	)

	RejectedOrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_rejected_orders_total",
			Help: "Orders rejected before execution, by reason.",
		},
		[]string{"reason"},
	)

	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_transactions_total",
			Help: "Transactions recorded by simulation runs, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		SimulationsTotal,
		SimulationDuration,
		BatchCombinationsTotal,
		RejectedOrdersTotal,
		TransactionsTotal,
	)
}
