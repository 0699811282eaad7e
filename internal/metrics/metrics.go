package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChunksEmbedded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profundo_chunks_embedded_total",
			Help: "Chunks embedded and stored, by embedding model",
		},
		[]string{"model"},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profundo_provider_retries_total",
			Help: "Retried provider calls, by operation",
		},
		[]string{"op"},
	)

	HarvestSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profundo_harvest_sessions_total",
			Help: "Harvested sessions, by outcome",
		},
		[]string{"outcome"}, // outcome: harvested, skipped, failed
	)

	IndexRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profundo_index_runs_total",
			Help: "Index runs, by outcome",
		},
		[]string{"outcome"}, // outcome: ok, halted, busy, error
	)

	RecallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "profundo_recall_duration_seconds",
			Help:    "Duration of recall queries",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoredChunks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "profundo_stored_chunks",
			Help: "Chunks in the vector store, by embedding model",
		},
		[]string{"model"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profundo_http_requests_total",
			Help: "HTTP requests served by the daemon",
		},
		[]string{"route", "status"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
