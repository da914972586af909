package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// groups is the closed set of classification groups plus the overflow label.
func InitializeMetrics(groups []string) {
	for _, outcome := range []string{"completed", "cancelled", "empty", "failed"} {
		ScanRunsTotal.WithLabelValues(outcome)
	}

	for _, g := range groups {
		ScanItemsClassified.WithLabelValues(g)
		ScanGroupSize.WithLabelValues(g)
	}

	for _, backend := range []string{"json", "sqlite"} {
		for _, status := range []string{"success", "error"} {
			SnapshotSavesTotal.WithLabelValues(backend, status)
		}
		for _, status := range []string{"success", "missing", "corrupt", "error"} {
			SnapshotLoadsTotal.WithLabelValues(backend, status)
		}
		SnapshotSaveDuration.WithLabelValues(backend)
	}

	for _, kind := range []string{"degraded", "final", "cancelled", "failed"} {
		ImageDeliveriesTotal.WithLabelValues(kind)
	}
	for _, q := range []string{"degraded", "final", "fast"} {
		ImageDecodeDuration.WithLabelValues(q)
	}
	for _, status := range []string{"generated", "skipped", "cancelled", "failed"} {
		ImageWarmupsTotal.WithLabelValues(status)
	}

	for _, op := range []string{"stat", "open"} {
		for _, vol := range []string{"library", "cache", "data", "unknown"} {
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
		}
	}
}
