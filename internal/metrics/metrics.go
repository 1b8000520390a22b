package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	MemoriesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memoryd_memories_submitted_total",
			Help: "Total number of memories accepted by the front door",
		},
	)

	MemoriesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryd_memories_ingested_total",
			Help: "Total number of queue envelopes processed by the consumer",
		},
		[]string{"status"},
	)

	IngestAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryd_ingest_attempts_total",
			Help: "Dual-write attempts per outcome",
		},
		[]string{"outcome"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memoryd_ingest_duration_seconds",
			Help:    "End-to-end envelope processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memoryd_queue_pending",
			Help: "Number of pending envelopes on the ingest stream",
		},
	)

	// Retrieval metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryd_search_requests_total",
			Help: "Total number of search requests",
		},
		[]string{"mode", "status"},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoryd_search_duration_seconds",
			Help:    "Search request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	SearchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoryd_search_results",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"mode"},
	)

	// Vector store metrics
	VectorOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryd_vector_ops_total",
			Help: "Vector store operations by type and status",
		},
		[]string{"op", "status"},
	)

	VectorOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoryd_vector_op_duration_seconds",
			Help:    "Vector store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// AI provider metrics
	AIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryd_ai_requests_total",
			Help: "AI provider requests by provider, operation and status",
		},
		[]string{"provider", "operation", "status"},
	)

	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoryd_ai_request_duration_seconds",
			Help:    "AI provider request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryd_embedding_requests_total",
			Help: "Embedding requests by model and status",
		},
		[]string{"model", "status"},
	)

	// Curator metrics
	CuratorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryd_curator_runs_total",
			Help: "Curator invocations by trigger and status",
		},
		[]string{"trigger", "status"},
	)

	CuratorConsolidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memoryd_curator_consolidations_total",
			Help: "Total number of duplicate groups merged",
		},
	)

	CuratorDeletedDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memoryd_curator_deleted_duplicates_total",
			Help: "Total number of duplicate memories removed",
		},
	)

	CuratorRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memoryd_curator_run_duration_seconds",
			Help:    "Curator run duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Signal logger metrics
	SignalsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryd_signals_published_total",
			Help: "Operational signals recorded by type",
		},
		[]string{"type"},
	)

	SignalSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memoryd_signal_subscribers",
			Help: "Number of live log stream subscribers",
		},
	)
)

// RecordVectorOp records a vector store call outcome with its duration.
func RecordVectorOp(op, status string, seconds float64) {
	VectorOps.WithLabelValues(op, status).Inc()
	VectorOpDuration.WithLabelValues(op).Observe(seconds)
}

// RecordAIRequest records an AI provider call outcome with its duration.
func RecordAIRequest(provider, operation, status string, seconds float64) {
	AIRequests.WithLabelValues(provider, operation, status).Inc()
	AIRequestDuration.WithLabelValues(provider, operation).Observe(seconds)
}

// RecordEmbedding records an embedding call outcome. Cache hits pass 0 duration.
func RecordEmbedding(model, status string, seconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
}

// RecordSearch records a search request outcome with duration and result count.
func RecordSearch(mode, status string, seconds float64, results int) {
	SearchRequests.WithLabelValues(mode, status).Inc()
	SearchDuration.WithLabelValues(mode).Observe(seconds)
	if status == "ok" {
		SearchResults.WithLabelValues(mode).Observe(float64(results))
	}
}
