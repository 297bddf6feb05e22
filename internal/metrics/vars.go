package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	AdapterLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "uqe_adapter_latency_seconds",
		Help:    "Time to obtain a quote from one protocol adapter",
		Buckets: prometheus.DefBuckets,
	}, []string{"protocol"})

	AdapterErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uqe_adapter_errors_total",
		Help: "Adapter call failures by protocol",
	}, []string{"protocol"})

	AdapterRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uqe_adapter_rate_limited_total",
		Help: "Calls rejected by the adapter's local rate limiter",
	}, []string{"protocol"})

	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uqe_cache_hits_total",
		Help: "Quote cache hits by cache name",
	}, []string{"cache"})

	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uqe_cache_misses_total",
		Help: "Quote cache misses by cache name",
	}, []string{"cache"})

	QuotesServed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uqe_quotes_served_total",
		Help: "Unified quotes delivered, by kind",
	}, []string{"kind"})

	QuoteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "uqe_quote_latency_seconds",
		Help:    "End-to-end getQuote latency",
		Buckets: prometheus.DefBuckets,
	})

	SecurityBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uqe_security_blocks_total",
		Help: "Transactions blocked by the security validator",
	})
)

func init() {
	prometheus.MustRegister(
		AdapterLatency,
		AdapterErrors,
		AdapterRateLimited,
		CacheHits,
		CacheMisses,
		QuotesServed,
		QuoteLatency,
		SecurityBlocks,
	)
}
