// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// Configuration is loaded from environment variables via [LoadConfig]. A
// .env file (or the file named by ENV_FILE) is read first; variables already
// set in the environment take precedence. The following variables are
// supported:
//
//   - LIBRARY_DIR: Path to the photo library (default: /library)
//   - DATA_DIR: Path for scan snapshots (default: /data)
//   - CACHE_DIR: Path for the thumbnail disk cache (default: /cache)
//   - PORT: HTTP server port (default: 8080)
//   - SNAPSHOT_BACKEND: json or sqlite (default: json)
//   - SCAN_WORKERS: Scan worker count, 0 for automatic (default: 0)
//   - WATCH_ENABLED: Resume scans when the library changes (default: true)
//   - WATCH_DEBOUNCE: Quiet period before a watcher scan (default: 2s)
//   - VIPS_ENABLED: Decode thumbnails with libvips (default: false)
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//   - MEMORY_LIMIT: Container memory limit for automatic GOMEMLIMIT configuration
//   - MEMORY_RATIO: Percentage of MEMORY_LIMIT for Go heap (default: 0.85)
//   - GOMEMLIMIT: Direct override for Go's memory limit
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
//
// # Lifecycle Logging
//
//   - [LogMemoryConfig]: Memory limit configuration
//   - [LogStoreInit]: Snapshot backend and timing
//   - [LogEngineInit], [LogRestored]: Scan engine setup and restored state
//   - [LogWatcherInit], [LogThumbnailInit]: Optional components
//   - [LogHTTPRoutes]: Registered HTTP routes (debug level)
//   - [LogServerStarted]: Server endpoints and startup duration
//   - [LogShutdownInitiated], [LogShutdownComplete]: Graceful shutdown
package startup
