package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobStoreConns, jobCacheLookupsTotal, buildInfo)
}

var (
	// state: total|idle|in_use
	jobStoreConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "generation_job_store_conns",
			Help: "Connections held by the Postgres job store pool.",
		},
		[]string{"state"},
	)

	jobCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_job_cache_lookups_total",
			Help: "Job snapshot lookups served by the Redis cache, by cache and result (hit|miss).",
		},
		[]string{"cache", "result"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediagen_build_info",
			Help: "Always 1; labelled with the running version and commit.",
		},
		[]string{"version", "commit"},
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	for state, n := range map[string]int32{"total": total, "idle": idle, "in_use": inUse} {
		jobStoreConns.WithLabelValues(state).Set(float64(n))
	}
}

func IncCacheRequest(cache, result string) {
	jobCacheLookupsTotal.WithLabelValues(norm(cache), norm(result)).Inc()
}

func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}
