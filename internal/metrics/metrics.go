package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gustycube/hostfetch/internal/health"
)

var (
	Requests        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "hostfetch_requests_total", Help: "fetch calls by final outcome"}, []string{"outcome"})
	Dispatches      = prometheus.NewCounter(prometheus.CounterOpts{Name: "hostfetch_dispatch_total", Help: "attempts released by the scheduler"})
	RateLimited     = prometheus.NewCounter(prometheus.CounterOpts{Name: "hostfetch_rate_limited_total", Help: "429 responses absorbed by the executor"})
	CacheLookups    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "hostfetch_cache_total", Help: "response cache lookups"}, []string{"result"})
	Retries         = prometheus.NewCounter(prometheus.CounterOpts{Name: "hostfetch_retries_total", Help: "attempts retried after backoff"})
	AttemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "hostfetch_attempt_duration_seconds", Help: "single HTTP attempt latency", Buckets: prometheus.DefBuckets})
	QueueDepth      = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "hostfetch_queue_depth", Help: "queued attempts across hosts"}, []string{"priority"})
	Buckets         = prometheus.NewGauge(prometheus.GaugeOpts{Name: "hostfetch_buckets", Help: "live per-host buckets"})
)

func init() {
	prometheus.MustRegister(Requests, Dispatches, RateLimited, CacheLookups, Retries, AttemptDuration, QueueDepth, Buckets)
}

// Mux routes /metrics and the health, readiness and liveness endpoints.
func Mux(healthHandler *health.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler.HealthHandler)
	mux.HandleFunc("/ready", healthHandler.ReadinessHandler)
	mux.HandleFunc("/live", healthHandler.LivenessHandler)
	return mux
}

// ServeWithHealth serves Mux on addr. It blocks until the listener fails.
func ServeWithHealth(addr string, healthHandler *health.Handler, log *zap.SugaredLogger) {
	if err := http.ListenAndServe(addr, Mux(healthHandler)); err != nil {
		log.Warnw("metrics server stopped", "err", err)
	}
}
