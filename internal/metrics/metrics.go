// Package metrics registers the Prometheus collectors the replay and
// stream pipelines report against, following the flat package-level
// collector style of ws/metrics.go (no wrapper indirection, increment at
// the call site).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SlicesFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tardis_slices_fetched_total",
			Help: "Slices downloaded from the remote endpoint, by exchange.",
		},
		[]string{"exchange"},
	)

	SlicesCacheHit = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tardis_slices_cache_hit_total",
			Help: "Slices served from the on-disk cache without a network fetch.",
		},
		[]string{"exchange"},
	)

	FetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tardis_fetch_errors_total",
			Help: "Fetch worker errors, by exchange.",
		},
		[]string{"exchange"},
	)

	FetchDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tardis_fetch_dropped_total",
			Help: "500ms pauses of slice fetch dispatch by the CPU emergency brake; paused slices are fetched later, not dropped.",
		},
		[]string{"exchange"},
	)

	RecordsYielded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tardis_records_yielded_total",
			Help: "Records yielded to the replay/stream consumer, by exchange.",
		},
		[]string{"exchange"},
	)

	DisconnectsYielded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tardis_disconnects_yielded_total",
			Help: "Disconnect sentinels yielded to the consumer, by exchange.",
		},
		[]string{"exchange"},
	)

	DecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tardis_decode_errors_total",
			Help: "Fatal decode errors (gzip, truncated line, malformed JSON), by exchange.",
		},
		[]string{"exchange"},
	)

	CacheIndexDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tardis_cache_index_depth",
			Help: "Slices currently present in the in-memory cache index, by exchange.",
		},
		[]string{"exchange"},
	)

	WaitLoopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tardis_wait_loop_duration_seconds",
			Help:    "Time the replay driver spent waiting for a slice to become available.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"exchange"},
	)
)

func init() {
	prometheus.MustRegister(
		SlicesFetched,
		SlicesCacheHit,
		FetchErrors,
		FetchDropped,
		RecordsYielded,
		DisconnectsYielded,
		DecodeErrors,
		CacheIndexDepth,
		WaitLoopDuration,
	)
}
