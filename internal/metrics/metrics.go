// Package metrics holds the Prometheus collectors exported by the feed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ShardsRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tf_shards_read_total",
			Help: "Shard files parsed successfully",
		},
	)

	ShardsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tf_shards_skipped_total",
			Help: "Shard files or directories skipped during a scan",
		},
		[]string{"reason"},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tf_scan_duration_seconds",
			Help:    "Time spent scanning the shard directory",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	SnapshotRebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tf_snapshot_rebuilds_total",
			Help: "Snapshots built from a full scan",
		},
		[]string{"mode"},
	)

	SnapshotCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tf_snapshot_cache_hits_total",
			Help: "Requests served from a cached snapshot",
		},
	)

	ResultCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tf_result_cache_lookups_total",
			Help: "Merged result cache lookups by outcome",
		},
		[]string{"result"},
	)

	ObjectsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tf_objects_served_total",
			Help: "Objects returned in response pages",
		},
		[]string{"route"},
	)

	NotModified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tf_not_modified_total",
			Help: "Requests short-circuited by conditional validators",
		},
		[]string{"validator"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tf_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tf_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	ShardsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tf_shards_generated_total",
			Help: "Fixture shards written by the generator",
		},
		[]string{"result"},
	)
)
