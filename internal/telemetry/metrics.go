package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_jobs_submitted_total", Help: "Cache jobs accepted via the API"})
	JobsRecovered     = prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_jobs_recovered_total", Help: "Jobs successfully resumed by a recovery pass"})
	JobsRecoveryFails = prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_jobs_recovery_failed_total", Help: "Jobs a recovery pass could not resume"})
	JobsCleaned       = prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_jobs_cleaned_total", Help: "Old completed jobs deleted by cleanup"})
	MessagesPublished = prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_messages_published_total", Help: "Work messages published to the queue"})
	ImagesSkipped     = prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_images_skipped_total", Help: "Images recorded as skipped because they left the collection"})
	RenderSuccess     = prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_renders_completed_total", Help: "Cache entries rendered successfully"})
	RenderFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_renders_failed_total", Help: "Cache renders that failed"})
	RenderExisting    = prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_renders_existing_total", Help: "Renders skipped because the destination already existed"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "cache_queue_depth", Help: "Ready work messages waiting in the queue"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "cache_inflight", Help: "Work messages currently leased"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsRecovered,
			JobsRecoveryFails,
			JobsCleaned,
			MessagesPublished,
			ImagesSkipped,
			RenderSuccess,
			RenderFailures,
			RenderExisting,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
