// Package metrics declares the Prometheus metrics exported by the photo
// scanner and a small collector that polls application state into gauges.
//
// Metrics are registered with promauto on package load, so importing the
// package is enough to expose them on the default registry served at
// /metrics. Call InitializeMetrics once at startup so labelled series exist
// before the first event.
//
// Metric families:
//   - photo_scanner_http_*: API requests
//   - photo_scanner_scan_*: scan runs, items, batches, publication
//   - photo_scanner_snapshot_*: snapshot persistence
//   - photo_scanner_image_*: windowed image requests and the provider
//   - photo_scanner_watcher_*: library change watcher
//   - photo_scanner_filesystem_*: stale file handle retries
//   - photo_scanner_memory_*: memory backpressure
package metrics
