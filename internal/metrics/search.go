package metrics

import "github.com/prometheus/client_golang/prometheus"

// Distributed search Prometheus metrics.
var (
	ShardRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "distsearch",
			Name:      "shard_requests_total",
			Help:      "Total number of shard requests by purpose",
		},
		[]string{"purpose", "status"}, // status: "ok" / "error"
	)

	ShardRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "distsearch",
			Name:      "shard_request_duration_seconds",
			Help:      "Shard request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"purpose"},
	)

	SearchStagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "distsearch",
			Name:      "search_stages_total",
			Help:      "Distributed search stages executed",
		},
		[]string{"stage"},
	)

	MergeDuplicateDocsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "distsearch",
			Name:      "merge_duplicate_docs_total",
			Help:      "Documents returned by more than one shard and dropped during merge",
		},
	)

	PartialResultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "distsearch",
			Name:      "partial_results_total",
			Help:      "Responses flagged with partialResults",
		},
	)

	FacetRefinementTermsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "distsearch",
			Name:      "facet_refinement_terms_total",
			Help:      "Facet terms sent to shards for refinement",
		},
	)

	FacetProtocolAnomaliesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "distsearch",
			Name:      "facet_protocol_anomalies_total",
			Help:      "Refinement responses naming a term that was never requested",
		},
	)

	ResponseCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "distsearch",
			Name:      "response_cache_total",
			Help:      "Response cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss" / "skip"
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers Prometheus search metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(ShardRequestsTotal)
	prometheus.MustRegister(ShardRequestDuration)
	prometheus.MustRegister(SearchStagesTotal)
	prometheus.MustRegister(MergeDuplicateDocsTotal)
	prometheus.MustRegister(PartialResultsTotal)
	prometheus.MustRegister(FacetRefinementTermsTotal)
	prometheus.MustRegister(FacetProtocolAnomaliesTotal)
	prometheus.MustRegister(ResponseCacheTotal)
	searchMetricsRegistered = true
}
