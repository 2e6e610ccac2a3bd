package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BookUpdates counts dispatched book updates by message type
// (quote/trade/order_update)
var BookUpdates = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "goldearn_book_updates_total",
		Help: "Total number of order book updates applied",
	},
	[]string{"type"},
)

// BookUpdateLatency records the book-update latency distribution.
// Buckets are tuned for a microsecond-scale hot path.
var BookUpdateLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "goldearn_book_update_latency_seconds",
		Help:    "Latency in seconds to apply one order book update",
		Buckets: []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 1e-2},
	},
)

// RiskChecks counts pre-trade checks by result code
var RiskChecks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "goldearn_risk_checks_total",
		Help: "Total number of pre-trade risk checks by result",
	},
	[]string{"result"},
)

// Risk and position gauges
var (
	CircuitBreakerActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goldearn_circuit_breaker_active",
			Help: "1 while the circuit breaker is tripped, 0 otherwise",
		},
	)

	RiskViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goldearn_risk_violations_total",
			Help: "Total number of risk violations recorded",
		},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goldearn_open_positions",
			Help: "Number of non-flat positions in the ledger",
		},
	)

	GrossExposure = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goldearn_gross_exposure",
			Help: "Sum of absolute position notionals",
		},
	)

	PortfolioVaR1D = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goldearn_portfolio_var_1d",
			Help: "One-day portfolio value at risk at 95% confidence",
		},
	)
)

func init() {
	prometheus.MustRegister(BookUpdates, BookUpdateLatency)
	prometheus.MustRegister(RiskChecks, CircuitBreakerActive, RiskViolations)
	prometheus.MustRegister(OpenPositions, GrossExposure, PortfolioVaR1D)
}
