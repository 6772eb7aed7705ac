// Package metrics provides Prometheus metrics for the estimation service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// EstimatorMetrics collects and exposes estimation-related Prometheus metrics.
type EstimatorMetrics struct {
	registry *prometheus.Registry

	// Estimation metrics
	EstimationsTotal  *prometheus.CounterVec
	EstimationLatency *prometheus.HistogramVec
	SimulationStdErr  *prometheus.HistogramVec

	// Publication metrics
	ResultsPublished *prometheus.CounterVec
	ResultsDiscarded *prometheus.CounterVec

	// Signal metrics
	EdgePct       *prometheus.GaugeVec
	SpreadPct     *prometheus.GaugeVec
	ModelProb     *prometheus.GaugeVec
	Opportunities *prometheus.CounterVec

	// Input metrics
	MissingInput         *prometheus.CounterVec
	MalformedInstruments prometheus.Counter
	FetchErrors          *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge
}

// NewEstimatorMetrics creates a new metrics collector on a private registry.
func NewEstimatorMetrics() *EstimatorMetrics {
	registry := prometheus.NewRegistry()

	em := &EstimatorMetrics{
		registry: registry,

		EstimationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_estimations_total",
				Help: "Total number of probability estimations",
			},
			[]string{"model", "barrier", "status"},
		),
		EstimationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edge_estimation_duration_seconds",
				Help:    "Time spent computing a probability estimate",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 100us to ~3s
			},
			[]string{"model"},
		),
		SimulationStdErr: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edge_simulation_stderr",
				Help:    "Standard error of Monte-Carlo estimates",
				Buckets: []float64{0.0005, 0.001, 0.002, 0.003, 0.005, 0.01, 0.02},
			},
			[]string{"barrier"},
		),

		ResultsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_results_published_total",
				Help: "Analyses published to the result state",
			},
			[]string{"status"},
		),
		ResultsDiscarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_results_discarded_total",
				Help: "Computations discarded because newer inputs arrived",
			},
			[]string{"model"},
		),

		EdgePct: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "edge_edge_pct",
				Help: "Latest edge in percentage points",
			},
			[]string{"market"},
		),
		SpreadPct: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "edge_spread_pct",
				Help: "Latest bid/ask spread as a percentage of the ask",
			},
			[]string{"market"},
		),
		ModelProb: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "edge_model_probability",
				Help: "Latest model probability",
			},
			[]string{"market", "model"},
		),
		Opportunities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_opportunities_total",
				Help: "Published analyses flagged as good opportunities",
			},
			[]string{"market", "low_liquidity"},
		),

		MissingInput: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_missing_input_total",
				Help: "Analyses that could not run for lack of input",
			},
			[]string{"reason"},
		),
		MalformedInstruments: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "edge_malformed_instruments_total",
				Help: "Option identifiers skipped as malformed",
			},
		),
		FetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_fetch_errors_total",
				Help: "Failed requests to market data sources",
			},
			[]string{"source"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "edge_active_sessions",
				Help: "Number of market sessions being tracked",
			},
		),
	}

	em.registerAll()

	return em
}

func (em *EstimatorMetrics) registerAll() {
	em.registry.MustRegister(
		em.EstimationsTotal,
		em.EstimationLatency,
		em.SimulationStdErr,
		em.ResultsPublished,
		em.ResultsDiscarded,
		em.EdgePct,
		em.SpreadPct,
		em.ModelProb,
		em.Opportunities,
		em.MissingInput,
		em.MalformedInstruments,
		em.FetchErrors,
		em.ActiveSessions,
	)
}

// Registry returns the prometheus registry.
func (em *EstimatorMetrics) Registry() *prometheus.Registry {
	return em.registry
}

// --- Helper methods for recording metrics ---

// RecordEstimation records a finished (or failed) estimation.
func (em *EstimatorMetrics) RecordEstimation(model, barrier, status string, latencySec, stdErr float64) {
	em.EstimationsTotal.WithLabelValues(model, barrier, status).Inc()
	if latencySec > 0 {
		em.EstimationLatency.WithLabelValues(model).Observe(latencySec)
	}
	if stdErr > 0 {
		em.SimulationStdErr.WithLabelValues(barrier).Observe(stdErr)
	}
}

// RecordPublished records a published analysis.
func (em *EstimatorMetrics) RecordPublished(status string) {
	em.ResultsPublished.WithLabelValues(status).Inc()
}

// RecordDiscarded records a superseded computation.
func (em *EstimatorMetrics) RecordDiscarded(model string) {
	em.ResultsDiscarded.WithLabelValues(model).Inc()
}

// UpdateSignal sets the latest edge gauges for a market. A market keeps one
// model probability series; switching model replaces it.
func (em *EstimatorMetrics) UpdateSignal(market, model string, prob float64, edgePct, spreadPct decimal.Decimal, good, lowLiquidity bool) {
	em.ModelProb.DeletePartialMatch(prometheus.Labels{"market": market})
	em.ModelProb.WithLabelValues(market, model).Set(prob)
	em.EdgePct.WithLabelValues(market).Set(DecimalToFloat64(edgePct))
	em.SpreadPct.WithLabelValues(market).Set(DecimalToFloat64(spreadPct))
	if good {
		lowLiq := "false"
		if lowLiquidity {
			lowLiq = "true"
		}
		em.Opportunities.WithLabelValues(market, lowLiq).Inc()
	}
}

// RecordMissingInput records an analysis that lacked input.
func (em *EstimatorMetrics) RecordMissingInput(reason string) {
	em.MissingInput.WithLabelValues(reason).Inc()
}

// RecordMalformed records skipped option identifiers.
func (em *EstimatorMetrics) RecordMalformed(n int) {
	if n > 0 {
		em.MalformedInstruments.Add(float64(n))
	}
}

// RecordFetchError records a failed fetch.
func (em *EstimatorMetrics) RecordFetchError(source string) {
	em.FetchErrors.WithLabelValues(source).Inc()
}

// ForgetMarket removes a market's signal series once it is no longer tracked.
func (em *EstimatorMetrics) ForgetMarket(market string) {
	em.ModelProb.DeletePartialMatch(prometheus.Labels{"market": market})
	em.EdgePct.DeleteLabelValues(market)
	em.SpreadPct.DeleteLabelValues(market)
}

// UpdateActiveSessions updates the tracked session count.
func (em *EstimatorMetrics) UpdateActiveSessions(count int) {
	em.ActiveSessions.Set(float64(count))
}

// DecimalToFloat64 safely converts decimal.Decimal to float64 for metrics.
func DecimalToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Global instance for convenience
var defaultMetrics *EstimatorMetrics
var once sync.Once

// Default returns the default global metrics instance.
func Default() *EstimatorMetrics {
	once.Do(func() {
		defaultMetrics = NewEstimatorMetrics()
	})
	return defaultMetrics
}
