// Package metrics exposes Prometheus instrumentation for the scrape
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsProcessed counts finished scrape jobs by terminal status.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appraisal_jobs_processed_total",
		Help: "Scrape jobs that reached a terminal status.",
	}, []string{"status"})

	// RecordsUpserted counts property rows written, split by whether the
	// row was new.
	RecordsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appraisal_records_upserted_total",
		Help: "Property records written by the upsert pipeline.",
	}, []string{"kind"})

	// TokenRefreshes counts auth token refresh attempts by result.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appraisal_token_refreshes_total",
		Help: "Upstream auth token refresh attempts.",
	}, []string{"result"})

	// UpstreamRequests counts pages fetched from the appraisal search
	// endpoint by HTTP status.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appraisal_upstream_requests_total",
		Help: "HTTP requests made to the upstream search endpoint.",
	}, []string{"status"})

	// PageSizeFallbacks counts drops to a smaller page size after a
	// truncated or overloaded response.
	PageSizeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appraisal_page_size_fallbacks_total",
		Help: "Times the fetch ladder dropped to a smaller page size.",
	})

	// TranslatorFallbacks counts natural-language queries that degraded to
	// plain text search.
	TranslatorFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appraisal_translator_fallbacks_total",
		Help: "Queries answered by the text-search fallback instead of a structured filter.",
	})

	// QueueDepth tracks broker message counts by state.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "appraisal_queue_depth",
		Help: "Broker messages by state.",
	}, []string{"state"})

	// JobDuration observes wall time of job processing.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "appraisal_job_duration_seconds",
		Help:    "Wall time spent processing a scrape job.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
