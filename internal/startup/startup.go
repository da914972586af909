package startup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"photo-scanner/internal/filesystem"
	"photo-scanner/internal/logging"
	"photo-scanner/internal/memory"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// Snapshot backends
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	LibraryDir      string
	DataDir         string
	CacheDir        string
	Port            string
	SnapshotBackend string
	ScanWorkers     int
	WatchEnabled    bool
	WatchDebounce   time.Duration
	VipsEnabled     bool
	LogHealthChecks bool

	// Derived paths
	SnapshotPath string
	ThumbnailDir string

	// Feature flags based on directory availability
	ThumbnailsEnabled bool
}

// LoadConfig loads an optional .env file, then reads and validates
// configuration from environment variables.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	loadDotEnv(getEnv("ENV_FILE", ".env"))

	libraryDir := getEnv("LIBRARY_DIR", "/library")
	dataDir := getEnv("DATA_DIR", "/data")
	cacheDir := getEnv("CACHE_DIR", "/cache")
	port := getEnv("PORT", "8080")
	backend := strings.ToLower(getEnv("SNAPSHOT_BACKEND", BackendJSON))
	scanWorkers := getEnvInt("SCAN_WORKERS", 0)
	watchEnabled := getEnvBool("WATCH_ENABLED", true)
	watchDebounceStr := getEnv("WATCH_DEBOUNCE", "2s")
	vipsEnabled := getEnvBool("VIPS_ENABLED", false)
	logHealthChecks := getEnvBool("LOG_HEALTH_CHECKS", true)

	logging.Info("  LIBRARY_DIR:         %s", libraryDir)
	logging.Info("  DATA_DIR:            %s", dataDir)
	logging.Info("  CACHE_DIR:           %s", cacheDir)
	logging.Info("  PORT:                %s", port)
	logging.Info("  SNAPSHOT_BACKEND:    %s", backend)
	logging.Info("  SCAN_WORKERS:        %d", scanWorkers)
	logging.Info("  WATCH_ENABLED:       %v", watchEnabled)
	logging.Info("  WATCH_DEBOUNCE:      %s", watchDebounceStr)
	logging.Info("  VIPS_ENABLED:        %v", vipsEnabled)
	logging.Info("  LOG_HEALTH_CHECKS:   %v", logHealthChecks)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())

	if backend != BackendJSON && backend != BackendSQLite {
		return nil, fmt.Errorf("unknown SNAPSHOT_BACKEND %q (want %q or %q)", backend, BackendJSON, BackendSQLite)
	}

	watchDebounce, err := time.ParseDuration(watchDebounceStr)
	if err != nil || watchDebounce < 0 {
		logging.Warn("  Invalid WATCH_DEBOUNCE, using default: 2s")
		watchDebounce = 2 * time.Second
	}

	// Resolve paths
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	if libraryDir, err = filepath.Abs(libraryDir); err != nil {
		return nil, fmt.Errorf("failed to resolve library directory path: %w", err)
	}
	logging.Info("  Library directory (absolute): %s", libraryDir)

	if dataDir, err = filepath.Abs(dataDir); err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	logging.Info("  Data directory (absolute): %s", dataDir)

	if cacheDir, err = filepath.Abs(cacheDir); err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory path: %w", err)
	}
	logging.Info("  Cache directory (absolute): %s", cacheDir)

	// Check library directory (warning only, it is usually mounted)
	if err := ensureDirectory(libraryDir, "library"); err != nil {
		logging.Warn("  Library directory issue: %v", err)
	}

	snapshotFile := "scanData.json"
	if backend == BackendSQLite {
		snapshotFile = "scan.db"
	}

	config := &Config{
		LibraryDir:      libraryDir,
		DataDir:         dataDir,
		CacheDir:        cacheDir,
		Port:            port,
		SnapshotBackend: backend,
		ScanWorkers:     scanWorkers,
		WatchEnabled:    watchEnabled,
		WatchDebounce:   watchDebounce,
		VipsEnabled:     vipsEnabled,
		LogHealthChecks: logHealthChecks,
		SnapshotPath:    filepath.Join(dataDir, snapshotFile),
		ThumbnailDir:    filepath.Join(cacheDir, "thumbnails"),
	}

	// The data directory holds the scan snapshot and is required
	if err := ensureDirectory(dataDir, "data"); err != nil {
		return nil, fmt.Errorf("data directory error: %w", err)
	}

	logging.Debug("  Testing data directory write access...")
	if err := testWriteAccess(dataDir); err != nil {
		return nil, fmt.Errorf("data directory is not writable (required for scan snapshots): %w", err)
	}
	logging.Info("  [OK] Data directory is writable")

	// Setup thumbnail directory (optional)
	config.ThumbnailsEnabled = setupOptionalDir(config.ThumbnailDir, "thumbnails")

	// Summary
	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Snapshots:   ENABLED (%s, required)", backend)
	logging.Info("    Thumbnails:  %s", enabledString(config.ThumbnailsEnabled))
	logging.Info("    Watcher:     %s", enabledString(config.WatchEnabled))
	logging.Info("    libvips:     %s", enabledString(config.VipsEnabled))

	return config, nil
}

// loadDotEnv loads variables from path without overriding the environment.
func loadDotEnv(path string) {
	err := godotenv.Load(path)
	switch {
	case err == nil:
		logging.Info("  Loaded environment from %s", path)
	case errors.Is(err, fs.ErrNotExist):
		logging.Debug("  No %s file found", path)
	default:
		logging.Warn("  Failed to load %s: %v", path, err)
	}
}

func setupOptionalDir(path, name string) bool {
	logging.Debug("  Setting up %s directory: %s", name, path)

	if err := os.MkdirAll(path, 0o755); err != nil {
		logging.Warn("    Failed to create %s directory: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}

	if err := testWriteAccess(path); err != nil {
		logging.Warn("    %s directory is not writable: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}

	logging.Debug("    [OK] %s directory ready", name)
	return true
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogMemoryConfig logs how the Go heap limit was configured
func LogMemoryConfig(limit memory.Limit) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("MEMORY CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	switch limit.Source {
	case "GOMEMLIMIT":
		logging.Info("  GOMEMLIMIT set directly: %s", memory.FormatBytes(limit.GoMemLimit))
	case "MEMORY_LIMIT":
		logging.Info("  Container limit: %s", memory.FormatBytes(limit.ContainerLimit))
		logging.Info("  GOMEMLIMIT:      %s (%.0f%%)", memory.FormatBytes(limit.GoMemLimit), limit.Ratio*100)
	default:
		logging.Info("  No memory limit configured (set MEMORY_LIMIT to enable)")
	}
}

// LogStoreInit logs snapshot store initialization
func LogStoreInit(backend, path string, duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SNAPSHOT STORE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Backend: %s", backend)
	logging.Info("  Path:    %s", path)
	logging.Info("  [OK] Store initialized in %v", duration)
}

// LogEngineInit logs scan engine initialization
func LogEngineInit(workers int, groups []string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SCAN ENGINE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	if workers > 0 {
		logging.Info("  Workers: %d", workers)
	} else {
		logging.Info("  Workers: auto")
	}
	logging.Info("  Groups:  %s", strings.Join(groups, ", "))
}

// LogRestored logs the outcome of restoring the previous scan
func LogRestored(processed, total int, duration time.Duration) {
	if processed == 0 {
		logging.Info("  No previous scan state restored")
		return
	}
	logging.Info("  [OK] Restored %d/%d items in %v", processed, total, duration)
}

// LogWatcherInit logs library watcher setup
func LogWatcherInit(enabled bool, debounce time.Duration) {
	if !enabled {
		logging.Info("  Library watcher disabled (scans start only via the API)")
		return
	}
	logging.Info("  Library watcher enabled (debounce %v)", debounce)
}

// LogThumbnailInit logs thumbnail provider initialization
func LogThumbnailInit(enabled, vips bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("THUMBNAIL PROVIDER INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	if !enabled {
		logging.Info("  Thumbnail disk cache disabled (cache directory not writable)")
	}
	logging.Info("  libvips: %s", enabledString(vips))
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}

		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes at debug level
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}

			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// LogServerStarted logs successful server start with endpoint information
func LogServerStarted(port string, startupDuration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", startupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    API:           http://0.0.0.0:%s/api/scan", port)
	logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", port)
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
    ____  __          __           _____
   / __ \/ /_  ____  / /_____     / ___/_________ _____  ____  ___  _____
  / /_/ / __ \/ __ \/ __/ __ \    \__ \/ ___/ __ '/ __ \/ __ \/ _ \/ ___/
 / ____/ / / / /_/ / /_/ /_/ /   ___/ / /__/ /_/ / / / / / / /  __/ /
/_/   /_/ /_/\____/\__/\____/   /____/\___/\__,_/_/ /_/_/ /_/\___/_/

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
