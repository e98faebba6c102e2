// Package metrics exports benchmark progress to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/cellbench/pkg/types"
)

// PrometheusMetrics holds all Prometheus metrics for the benchmark harness.
type PrometheusMetrics struct {
	// Transaction counters
	TxGenerated *prometheus.CounterVec
	TxBroadcast *prometheus.CounterVec

	// Chain observation
	TipNumber          prometheus.Gauge
	WindowTPS          prometheus.Gauge
	AverageBlockTimeMs prometheus.Gauge
	AverageBlockTxns   prometheus.Gauge
	WindowSpread       prometheus.Gauge
	Evaluations        prometheus.Counter
	FetchRetries       prometheus.Counter
	Phase              *prometheus.GaugeVec

	RPCLatency *prometheus.HistogramVec
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		TxGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellbench_transactions_generated_total",
				Help: "Transactions generated by generator kind",
			},
			[]string{"generator"},
		),

		TxBroadcast: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellbench_transactions_broadcast_total",
				Help: "Broadcast transactions by status",
			},
			[]string{"status"},
		),

		TipNumber: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cellbench_confirmed_tip_number",
				Help: "Last observed confirmed tip block number",
			},
		),

		WindowTPS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cellbench_window_tps",
				Help: "Transactions per second of the last evaluated block window",
			},
		),

		AverageBlockTimeMs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cellbench_window_average_block_time_ms",
				Help: "Average block interval of the last evaluated window in milliseconds",
			},
		),

		AverageBlockTxns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cellbench_window_average_block_transactions",
				Help: "Average transactions per block of the last evaluated window",
			},
		),

		WindowSpread: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cellbench_window_txn_spread",
				Help: "Max minus min transactions per block in the last evaluated window",
			},
		),

		Evaluations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cellbench_window_evaluations_total",
				Help: "Block windows evaluated by the stability monitor",
			},
		),

		FetchRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cellbench_block_fetch_retries_total",
				Help: "Retried block fetches",
			},
		),

		Phase: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cellbench_phase",
				Help: "Current benchmark phase (1 if active, 0 otherwise)",
			},
			[]string{"phase"},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cellbench_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "status"},
		),
	}
}

// RecordTxGenerated records n generated transactions.
func (m *PrometheusMetrics) RecordTxGenerated(generator string, n int) {
	m.TxGenerated.WithLabelValues(generator).Add(float64(n))
}

// RecordTxSent records a transaction accepted by a node.
func (m *PrometheusMetrics) RecordTxSent() {
	m.TxBroadcast.WithLabelValues("sent").Inc()
}

// RecordTxFailed records a transaction a node rejected or never received.
func (m *PrometheusMetrics) RecordTxFailed() {
	m.TxBroadcast.WithLabelValues("failed").Inc()
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"get_tip_block_number": true,
	"get_block_by_number":  true,
	"tx_pool_info":         true,
	"get_peers":            true,
	"send_transaction":     true,
	"get_cells":            true,
}

// RecordRPCLatency records RPC call latency.
func (m *PrometheusMetrics) RecordRPCLatency(method string, success bool, latencySeconds float64) {
	bucketedMethod := method
	if !knownRPCMethods[method] {
		bucketedMethod = "other"
	}

	status := "success"
	if !success {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(bucketedMethod, status).Observe(latencySeconds)
}

// SetTipNumber updates the confirmed tip gauge.
func (m *PrometheusMetrics) SetTipNumber(n uint64) {
	m.TipNumber.Set(float64(n))
}

// RecordEvaluation publishes one window evaluation.
func (m *PrometheusMetrics) RecordEvaluation(metrics types.Metrics, spread uint64) {
	m.Evaluations.Inc()
	m.WindowTPS.Set(float64(metrics.TPS))
	m.AverageBlockTimeMs.Set(float64(metrics.AverageBlockTimeMs))
	m.AverageBlockTxns.Set(float64(metrics.AverageBlockTransactions))
	m.WindowSpread.Set(float64(spread))
}

// RecordFetchRetry counts a retried block fetch.
func (m *PrometheusMetrics) RecordFetchRetry() {
	m.FetchRetries.Inc()
}

var allPhases = []types.BenchPhase{
	types.PhaseIdle,
	types.PhaseLoadingCells,
	types.PhaseGenerating,
	types.PhaseBroadcasting,
	types.PhaseWarmup,
	types.PhaseMeasuring,
	types.PhaseDraining,
	types.PhaseCompleted,
	types.PhaseError,
}

// SetPhase marks phase as the active one.
func (m *PrometheusMetrics) SetPhase(phase types.BenchPhase) {
	for _, p := range allPhases {
		if p == phase {
			m.Phase.WithLabelValues(string(p)).Set(1)
		} else {
			m.Phase.WithLabelValues(string(p)).Set(0)
		}
	}
}
