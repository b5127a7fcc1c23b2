package metrics

import "github.com/prometheus/client_golang/prometheus"

// Core engine Prometheus metrics: similarity search, embedding pipeline, and
// the conversation ledger.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regledger",
			Name:      "search_requests_total",
			Help:      "Total number of similarity searches",
		},
		[]string{"status"},
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "regledger",
			Name:      "search_duration_seconds",
			Help:      "Similarity search duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	SearchResultsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "regledger",
			Name:      "search_results_returned",
			Help:      "Number of matches returned per search",
			Buckets:   []float64{0, 1, 2, 3, 5, 7, 10, 20},
		},
	)

	PipelineChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regledger",
			Name:      "pipeline_chunks_total",
			Help:      "Chunks processed by the embedding pipeline",
		},
		[]string{"outcome"}, // "embedded" / "skipped" / "failed"
	)

	LedgerAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regledger",
			Name:      "ledger_appends_total",
			Help:      "Message appends by outcome",
		},
		[]string{"status"},
	)

	LedgerAppendConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "regledger",
			Name:      "ledger_append_conflicts_total",
			Help:      "Write collisions on message index retried internally",
		},
	)

	GateDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regledger",
			Name:      "gate_denials_total",
			Help:      "Access policy gate denials",
		},
		[]string{"action"},
	)
)

var coreMetricsRegistered bool

// RegisterCoreMetrics registers search, pipeline, and ledger metrics. Must be
// called once from main.
func RegisterCoreMetrics() {
	if coreMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchResultsReturned)
	prometheus.MustRegister(PipelineChunksTotal)
	prometheus.MustRegister(LedgerAppendsTotal)
	prometheus.MustRegister(LedgerAppendConflicts)
	prometheus.MustRegister(GateDenialsTotal)
	coreMetricsRegistered = true
}
