package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "romfetch_jobs_created_total",
		Help: "Total number of download jobs created",
	})

	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "romfetch_jobs_completed_total",
		Help: "Total number of download jobs placed in the library",
	})

	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "romfetch_jobs_failed_total",
		Help: "Total number of download jobs that ended in error",
	})

	JobsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "romfetch_jobs_cancelled_total",
		Help: "Total number of download jobs cancelled by the user",
	})

	ActiveTransfers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "romfetch_active_transfers",
		Help: "Number of jobs currently streaming bytes",
	})

	Placements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "romfetch_placements_total",
		Help: "Placements by backend and outcome",
	}, []string{"backend", "outcome"})

	ClassificationsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "romfetch_classifications_total",
		Help: "Classifications by whether the system was detected from content",
	}, []string{"detected"})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "romfetch_download_duration_seconds",
		Help:    "Time spent streaming a file to the cache directory",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "romfetch_download_bytes_total",
		Help: "Total bytes downloaded",
	})

	PresenceRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "romfetch_presence_refreshes_total",
		Help: "Presence cache refreshes by outcome",
	}, []string{"outcome"})
)

// Outcome converts an error into a metric label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
