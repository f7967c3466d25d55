package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "anno_train"

var (
	// JobsFinished 按后端与终态统计
	JobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Training jobs that reached a terminal state.",
	}, []string{"backend", "status"})

	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Wall time from training start to terminal state.",
		Buckets:   prometheus.ExponentialBuckets(30, 2, 12),
	}, []string{"backend"})

	JobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "jobs",
		Name:      "active",
		Help:      "Jobs currently being processed by this worker.",
	})

	Epochs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "jobs",
		Name:      "epochs_total",
		Help:      "Epoch callbacks received from local trainers.",
	})

	StaleReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "jobs",
		Name:      "stale_reaped_total",
		Help:      "Training jobs failed by the stale job reaper.",
	})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Progress events published, by type.",
	}, []string{"type"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
)

func init() {
	prometheus.MustRegister(
		JobsFinished,
		JobDuration,
		JobsActive,
		Epochs,
		StaleReaped,
		EventsPublished,
		HTTPDuration,
	)
}

// Since 记录从 start 到现在的耗时
func Since(o prometheus.Observer, start time.Time) {
	o.Observe(time.Since(start).Seconds())
}

// Handler /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
