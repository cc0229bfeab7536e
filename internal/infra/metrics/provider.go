package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		providerCallLatency,
		providerRateLimitedTotal,
	)
}

var (
	providerCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Provider submit/poll call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "op", "success"},
	)

	providerRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_rate_limited_total",
			Help: "Provider calls refused locally by the shared rate limiter.",
		},
		[]string{"provider", "op"},
	)
)

func ObserveProviderCall(provider, op string, d time.Duration, success bool) {
	providerCallLatency.WithLabelValues(norm(provider), norm(op), strconv.FormatBool(success)).
		Observe(d.Seconds())
}

func IncProviderRateLimited(provider, op string) {
	providerRateLimitedTotal.WithLabelValues(norm(provider), norm(op)).Inc()
}
