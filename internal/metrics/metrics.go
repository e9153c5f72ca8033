// Package metrics registers the prometheus collectors the core exposes
// for its cache, lock, and job subsystems, in the style of the teacher's
// obs.Init/obs.Handler split.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "splitledger_cache_hits_total",
		Help: "Cache lookups served without invoking the producer.",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "splitledger_cache_misses_total",
		Help: "Cache lookups that invoked the producer.",
	})

	LockWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "splitledger_lock_wait_seconds",
			Help:    "Time spent waiting to acquire a named lock.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"}, // "acquired" or "timeout"
	)

	JobQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "splitledger_job_queue_depth",
			Help: "Number of jobs currently queued per job type.",
		},
		[]string{"job_type"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "splitledger_job_duration_seconds",
			Help:    "Job handler execution latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job_type", "outcome"}, // outcome: "success", "retry", "failed"
	)
)

// Init registers every collector in the default prometheus registry.
// Call once at process startup.
func Init() {
	prometheus.MustRegister(CacheHits, CacheMisses, LockWaitSeconds, JobQueueDepth, JobDuration)
}

// Handler serves the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
