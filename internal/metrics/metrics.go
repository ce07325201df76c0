// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_http_requests_total",
		Help: "Total HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})
	HTTPRequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "civic_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "civic_rate_limited_total",
		Help: "Total requests rejected by the rate limiter",
	})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "civic_cache_hits_total",
		Help: "Total issue list cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "civic_cache_misses_total",
		Help: "Total issue list cache misses",
	})
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_events_published_total",
		Help: "Issue events delivered to sinks by result",
	}, []string{"sink", "result"})
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "civic_events_dropped_total",
		Help: "Issue events dropped because the publish queue was full",
	})
	SSEClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "civic_sse_clients",
		Help: "Currently connected issue stream clients",
	})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDurationMs)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(SSEClients)
}

func Handler() http.Handler { return promhttp.Handler() }
