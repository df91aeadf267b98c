// Package metrics exposes Prometheus collectors for tubemux.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CatalogCacheHits counts catalog cache hits per kind.
	CatalogCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubemux_catalog_cache_hits_total",
			Help: "Catalog cache hits",
		},
		[]string{"kind"},
	)

	// CatalogCacheMisses counts catalog cache misses per kind.
	CatalogCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubemux_catalog_cache_misses_total",
			Help: "Catalog cache misses",
		},
		[]string{"kind"},
	)

	// UpstreamRetries counts retry attempts against the upstream source.
	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubemux_upstream_retry_attempts_total",
			Help: "Upstream retry attempts by operation",
		},
		[]string{"operation"},
	)

	// ActiveSessions tracks the number of in-flight download sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tubemux_active_download_sessions",
			Help: "Currently active download sessions",
		},
	)

	// SessionsTotal counts finished download sessions by terminal status.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubemux_download_sessions_total",
			Help: "Finished download sessions by status",
		},
		[]string{"status", "mode"},
	)

	// BytesStreamed counts bytes delivered to clients.
	BytesStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tubemux_bytes_streamed_total",
			Help: "Total media bytes delivered to clients",
		},
	)
)
