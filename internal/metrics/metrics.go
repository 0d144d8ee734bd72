package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolutions counts resolver verdicts by request kind and winning source.
	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashproxy_resolutions_total",
		Help: "Dashboard reference resolutions by kind and source",
	}, []string{"kind", "source"})

	// RenderCache counts render cache lookups and writes by result.
	RenderCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashproxy_render_cache_total",
		Help: "Render cache operations by operation and result",
	}, []string{"operation", "result"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashproxy_rate_limited_total",
		Help: "Requests rejected by the fixed-window limiter",
	}, []string{"class"})

	RateWindows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dashproxy_rate_windows",
		Help: "Live rate limit windows by class",
	}, []string{"class"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashproxy_http_request_duration_seconds",
		Help:    "Inbound request latency by route and status",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"route", "status"})
)
