// Package metrics exposes Prometheus counters for sync and download
// activity, mounted on the admin HTTP server's /metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayfetch_downloads_total",
			Help: "Per-file download attempts by terminal outcome (finished, error).",
		},
		[]string{"outcome"},
	)

	BytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relayfetch_download_bytes_total",
		Help: "Sum of final payload sizes reported by finished downloads, including files a 304 confirmed unchanged.",
	})

	RetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relayfetch_download_retries_total",
		Help: "Total retry attempts across all downloads.",
	})

	SyncPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayfetch_sync_passes_total",
			Help: "Completed sync passes by last_result classification.",
		},
		[]string{"result"},
	)

	SyncInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relayfetch_sync_inflight",
		Help: "1 while a sync pass is running, 0 otherwise.",
	})
)

func init() {
	prometheus.MustRegister(DownloadsTotal, BytesTotal, RetriesTotal, SyncPassesTotal, SyncInflight)
}
