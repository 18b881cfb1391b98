package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search Prometheus metrics.
var (
	SearchCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omnisearch",
			Name:      "search_cache_total",
			Help:      "Search cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	AdapterFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omnisearch",
			Name:      "adapter_failures_total",
			Help:      "Entity adapter fetch failures (including deadline misses)",
		},
		[]string{"entity", "reason"}, // reason: "error" / "deadline"
	)

	FanoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "omnisearch",
			Name:      "fanout_duration_seconds",
			Help:      "Wall-clock duration of the per-query adapter fan-out",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omnisearch",
			Name:      "ratelimit_rejections_total",
			Help:      "Requests rejected by the sliding-window rate limiter",
		},
		[]string{"tier"},
	)
)

// RegisterSearchMetrics registers search collectors with the default registry.
// Called explicitly from main (no init()).
func RegisterSearchMetrics() {
	prometheus.MustRegister(SearchCacheTotal)
	prometheus.MustRegister(AdapterFailuresTotal)
	prometheus.MustRegister(FanoutDuration)
	prometheus.MustRegister(RateLimitRejectionsTotal)
}
