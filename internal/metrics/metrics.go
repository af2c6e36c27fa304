// Package metrics defines the Prometheus collectors exported on /v1/metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "transcriber"

var (
	transcriptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcription requests by result source and mode (sync or async).",
		},
		[]string{"source", "mode"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Job state transitions by resulting status.",
		},
		[]string{"status"},
	)

	captionFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "caption_fallbacks_total",
			Help:      "Caption lookups that fell through to speech recognition, by reason code.",
		},
		[]string{"reason"},
	)

	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Webhook delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)

	engineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_duration_seconds",
			Help:      "Time spent inside the transcription engine.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"engine"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting in the work queue.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Number of HTTP requests partitioned by status code, method and route.",
		},
		[]string{"code", "method", "path"},
	)

	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_milliseconds",
			Help:      "Time spent on the request partitioned by status code, method and route.",
			Buckets:   []float64{10, 50, 100, 300, 500, 1000, 5000, 30000},
		},
		[]string{"code", "method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		transcriptionsTotal,
		jobsTotal,
		captionFallbacksTotal,
		webhooksTotal,
		engineDuration,
		queueDepth,
		httpRequests,
		httpLatency,
	)
}

func IncTranscription(source, mode string) {
	transcriptionsTotal.WithLabelValues(source, mode).Inc()
}

func IncJobStatus(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

func IncCaptionFallback(reason string) {
	captionFallbacksTotal.WithLabelValues(reason).Inc()
}

func IncWebhook(outcome string) {
	webhooksTotal.WithLabelValues(outcome).Inc()
}

func ObserveEngine(engine string, d time.Duration) {
	engineDuration.WithLabelValues(engine).Observe(d.Seconds())
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// Middleware records request count and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := strconv.Itoa(c.Writer.Status())
		httpRequests.WithLabelValues(code, c.Request.Method, path).Inc()
		httpLatency.WithLabelValues(code, c.Request.Method, path).Observe(float64(time.Since(start).Milliseconds()))
	}
}
