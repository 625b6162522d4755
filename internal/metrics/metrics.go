package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DocumentsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowhub_documents_ingested_total",
		Help: "Documents fully indexed, by collection.",
	}, []string{"collection"})

	ChunksInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowhub_chunks_inserted_total",
		Help: "Chunks inserted into the vector store, by collection.",
	}, []string{"collection"})

	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowhub_jobs_failed_total",
		Help: "Jobs that exhausted their retries, by actor.",
	}, []string{"actor"})

	RetrievalSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "knowhub_retrieval_seconds",
		Help:    "Latency of a single retrieval batch.",
		Buckets: prometheus.DefBuckets,
	})

	GenerationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "knowhub_generation_seconds",
		Help:    "Latency of LLM generation per streaming job.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	StreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowhub_stream_events_total",
		Help: "Events appended to generation streams, by type.",
	}, []string{"type"})
)
