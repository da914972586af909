package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_scanner_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_scanner_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_scanner_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)
)

// Scan metrics
var (
	ScanRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_scanner_scan_runs_total",
			Help: "Total number of scan runs by outcome",
		},
		[]string{"outcome"}, // "completed", "cancelled", "empty", "failed"
	)

	ScanRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_scanner_scan_running",
			Help: "Whether a scan is currently running (1 = running, 0 = idle)",
		},
	)

	ScanItemsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_scanner_scan_items_processed_total",
			Help: "Total number of items fingerprinted and classified",
		},
	)

	ScanItemsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_scanner_scan_items_classified_total",
			Help: "Total number of items merged per group (overflow included)",
		},
		[]string{"group"},
	)

	ScanFingerprintErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_scanner_scan_fingerprint_errors_total",
			Help: "Total number of items whose bytes could not be read",
		},
	)

	ScanBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photo_scanner_scan_batch_duration_seconds",
			Help:    "Time to fingerprint and classify one batch",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	ScanLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_scanner_scan_last_run_duration_seconds",
			Help: "Duration of the last scan run in seconds",
		},
	)

	ScanPublishesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_scanner_scan_publishes_total",
			Help: "Total number of state snapshots published to observers",
		},
	)

	ScanProgressRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_scanner_scan_progress_ratio",
			Help: "Processed items divided by total items (0.0-1.0)",
		},
	)

	ScanGroupSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photo_scanner_scan_group_size",
			Help: "Number of items per group in the published state",
		},
		[]string{"group"},
	)
)

// Persistence metrics
var (
	SnapshotSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_scanner_snapshot_saves_total",
			Help: "Total number of snapshot saves by status",
		},
		[]string{"backend", "status"},
	)

	SnapshotSaveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_scanner_snapshot_save_duration_seconds",
			Help:    "Snapshot save duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend"},
	)

	SnapshotLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_scanner_snapshot_loads_total",
			Help: "Total number of snapshot loads by status",
		},
		[]string{"backend", "status"}, // "success", "missing", "corrupt", "error"
	)

	SnapshotSavesCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_scanner_snapshot_saves_coalesced_total",
			Help: "Queued snapshots superseded by a newer one before being written",
		},
	)
)

// Image request metrics
var (
	ImageRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_scanner_image_requests_total",
			Help: "Total number of image fetches issued to the provider",
		},
	)

	ImageDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_scanner_image_deliveries_total",
			Help: "Total number of image deliveries by kind",
		},
		[]string{"kind"}, // "degraded", "final", "cancelled", "failed"
	)

	ImageRequestsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_scanner_image_requests_cancelled_total",
			Help: "Total number of in-flight image requests cancelled by the manager",
		},
	)

	ImageRequestsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_scanner_image_requests_pending",
			Help: "Number of image requests currently in flight",
		},
	)

	ImageDecodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_scanner_image_decode_duration_seconds",
			Help:    "Provider decode and resize duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"quality"}, // "degraded", "final"
	)

	ImageCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_scanner_image_cache_hits_total",
			Help: "Total number of provider disk cache hits",
		},
	)

	ImageCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_scanner_image_cache_misses_total",
			Help: "Total number of provider disk cache misses",
		},
	)

	ImageWarmupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_scanner_image_warmups_total",
			Help: "Total number of bulk cache warmups by status",
		},
		[]string{"status"}, // "generated", "skipped", "cancelled", "failed"
	)
)

// Library watcher metrics
var (
	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_scanner_watcher_events_total",
			Help: "Total number of filesystem watcher events",
		},
		[]string{"event_type"},
	)

	WatcherErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_scanner_watcher_errors_total",
			Help: "Total number of filesystem watcher errors",
		},
	)
)

// Filesystem metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_scanner_filesystem_retry_attempts_total",
			Help: "Total number of retries after stale file handle errors",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_scanner_filesystem_retry_success_total",
			Help: "Total number of operations that succeeded after retrying",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_scanner_filesystem_retry_failures_total",
			Help: "Total number of operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_scanner_filesystem_stale_errors_total",
			Help: "Total number of ESTALE errors observed",
		},
		[]string{"operation", "volume"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_scanner_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_scanner_memory_paused",
			Help: "Whether scan batches are paused for memory pressure (1 = paused)",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photo_scanner_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
