package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mural",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mural",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mural",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	PushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mural",
			Name:      "replication_pushes_total",
			Help:      "Replication push attempts by outcome.",
		},
		[]string{"peer", "result"},
	)

	PushesAbandoned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mural",
			Name:      "replication_pushes_abandoned_total",
			Help:      "Pushes given up after exhausting retries; recovered later by reconciliation.",
		},
	)

	ReconcilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mural",
			Name:      "reconciliations_total",
			Help:      "Per-peer reconciliation rounds by outcome.",
		},
		[]string{"result"},
	)

	MessagesMerged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mural",
			Name:      "messages_merged_total",
			Help:      "Messages adopted from peers via push or reconciliation.",
		},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "mural",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(RequestsTotal, RequestDuration, InFlight,
		PushesTotal, PushesAbandoned, ReconcilesTotal, MessagesMerged, uptime)
}

// MetricsHandler exposes /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided
// "op" label.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
