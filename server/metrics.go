package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics exposed on /metrics.
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aisec_server_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aisec_server_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
		},
		[]string{"endpoint"},
	)
	promScansBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aisec_server_scans_blocked_total",
			Help: "Total number of scans whose verdict blocked the content",
		},
	)
	promCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aisec_server_cache_hits_total",
			Help: "Total number of sync scans served from the verdict cache",
		},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promScansBlocked)
	prometheus.MustRegister(promCacheHits)
}
