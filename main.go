package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photo-scanner/internal/asset"
	"photo-scanner/internal/classifier"
	"photo-scanner/internal/filesystem"
	"photo-scanner/internal/handlers"
	"photo-scanner/internal/imagecache"
	"photo-scanner/internal/logging"
	"photo-scanner/internal/media"
	"photo-scanner/internal/memory"
	"photo-scanner/internal/metrics"
	"photo-scanner/internal/middleware"
	"photo-scanner/internal/persistence"
	"photo-scanner/internal/scan"
	"photo-scanner/internal/startup"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
)

// app holds the long-lived components torn down on shutdown.
type app struct {
	cancel    context.CancelFunc
	srv       *http.Server
	engine    *scan.Engine
	writer    *persistence.Writer
	provider  *media.Provider
	collector *metrics.Collector
	monitor   *memory.Monitor
}

func main() {
	startTime := time.Now()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	startup.LogMemoryConfig(memory.ConfigureFromEnv())
	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()

	ctx, cancel := context.WithCancel(context.Background())
	a := &app{cancel: cancel, monitor: monitor}

	cls := classifier.Default()
	groupLabels := append(classifier.Strings(cls.Groups()), scan.OthersLabel)
	metrics.InitializeMetrics(groupLabels)
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
	filesystem.SetObserver(metrics.NewFilesystemObserver())

	// Snapshot store
	storeStart := time.Now()
	store, err := openStore(ctx, config)
	if err != nil {
		startup.LogFatal("Failed to initialize snapshot store: %v", err)
	}
	startup.LogStoreInit(config.SnapshotBackend, config.SnapshotPath, time.Since(storeStart))
	a.writer = persistence.NewWriter(store)

	// Scan engine
	startup.LogEngineInit(config.ScanWorkers, groupLabels)
	source := asset.NewFileSource(afero.NewOsFs(), config.LibraryDir)
	opts := []scan.Option{scan.WithThrottle(monitor)}
	if config.ScanWorkers > 0 {
		opts = append(opts, scan.WithWorkers(config.ScanWorkers))
	}
	a.engine, err = scan.NewEngine(source, cls, store, a.writer, opts...)
	if err != nil {
		startup.LogFatal("Failed to create scan engine: %v", err)
	}

	restoreStart := time.Now()
	if err := a.engine.Restore(ctx); err != nil {
		logging.Error("Failed to restore scan state: %v", err)
	}
	restored := a.engine.State().Snapshot()
	startup.LogRestored(restored.Processed, restored.Total, time.Since(restoreStart))

	// One preview manager per group follows the group as the scan fills it
	a.provider = newProvider(config)
	previews, pending := newPreviews(ctx, a.engine.State(), cls.Groups(), a.provider)

	a.collector = metrics.NewCollector(metrics.StatsFunc(func() metrics.Stats {
		snap := a.engine.State().Snapshot()
		sizes := snap.GroupSizes()
		sizes[scan.OthersLabel] = len(snap.Others)
		return metrics.Stats{
			Processed:    snap.Processed,
			Total:        snap.Total,
			Scanning:     snap.Scanning,
			GroupSizes:   sizes,
			PendingFetch: pending(),
		}
	}), 15*time.Second)
	a.collector.Start()

	h := handlers.New(ctx, a.engine, cls.Groups(), previews)
	router := setupRouter(h)
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks

	a.srv = &http.Server{
		Addr:              ":" + config.Port,
		Handler:           middleware.Logger(loggingConfig)(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Resume from where the previous process stopped, then follow changes
	if err := a.engine.Start(ctx, false); err != nil {
		logging.Warn("Initial scan not started: %v", err)
	}
	h.SetReady()

	startup.LogWatcherInit(config.WatchEnabled, config.WatchDebounce)
	if config.WatchEnabled {
		go watchLibrary(ctx, config, a.engine)
	}

	done := make(chan struct{})
	go a.handleShutdown(done)

	startup.LogServerStarted(config.Port, time.Since(startTime))
	if err := a.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

func openStore(ctx context.Context, config *startup.Config) (persistence.Store, error) {
	if config.SnapshotBackend == startup.BackendSQLite {
		store, err := persistence.NewSQLiteStore(ctx, config.SnapshotPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return persistence.NewJSONStore(afero.NewOsFs(), config.SnapshotPath), nil
}

// newPreviews creates a preview manager for every group and for the
// overflow group. Only the first group loads its leading positions eagerly;
// the others wait for clients to move their preload window.
func newPreviews(ctx context.Context, state *scan.State, groups []classifier.Group, provider imagecache.Provider) (map[string]handlers.Previews, func() int) {
	previews := make(map[string]handlers.Previews, len(groups)+1)
	managers := make([]*imagecache.Manager, 0, len(groups)+1)

	add := func(label string, feed <-chan []asset.Item, opts ...imagecache.Option) {
		m := imagecache.NewManager(provider, opts...)
		go func() {
			m.Follow(ctx, feed)
			m.Close()
		}()
		previews[label] = m
		managers = append(managers, m)
	}

	for i, g := range groups {
		var opts []imagecache.Option
		if i > 0 {
			opts = append(opts, imagecache.WithInitialLoad(0))
		}
		add(string(g), state.GroupFeed(ctx, g), opts...)
	}
	add(scan.OthersLabel, state.OthersFeed(ctx), imagecache.WithInitialLoad(0))

	pending := func() int {
		n := 0
		for _, m := range managers {
			n += m.Pending()
		}
		return n
	}
	return previews, pending
}

func newProvider(config *startup.Config) *media.Provider {
	useVips := false
	if config.VipsEnabled {
		if err := media.InitVips(); err != nil {
			logging.Warn("libvips unavailable, using pure Go decoding: %v", err)
		} else {
			useVips = true
		}
	}
	startup.LogThumbnailInit(config.ThumbnailsEnabled, useVips)

	var cache *media.ThumbnailCache
	if config.ThumbnailsEnabled {
		var err error
		if cache, err = media.NewThumbnailCache(afero.NewOsFs(), config.ThumbnailDir); err != nil {
			logging.Warn("Thumbnail disk cache disabled: %v", err)
		}
	}

	retry := filesystem.DefaultRetryConfig()
	retry.VolumeResolver = filesystem.NewVolumeResolver(map[string]string{
		"library": config.LibraryDir,
		"cache":   config.CacheDir,
		"data":    config.DataDir,
	})

	provider, err := media.NewProvider(media.Config{
		Cache:   cache,
		UseVips: useVips,
		Retry:   retry,
	})
	if err != nil {
		startup.LogFatal("Failed to create image provider: %v", err)
	}
	return provider
}

// watchLibrary resumes the scan whenever files settle in the library.
func watchLibrary(ctx context.Context, config *startup.Config, engine *scan.Engine) {
	err := asset.Watch(ctx, config.LibraryDir, config.WatchDebounce, func() {
		if err := engine.Start(ctx, false); err != nil {
			if errors.Is(err, scan.ErrScanInProgress) {
				logging.Debug("Library changed during a scan; the next change will pick it up")
				return
			}
			logging.Warn("Watcher scan not started: %v", err)
		}
	})
	if err != nil {
		logging.Error("Library watcher stopped: %v", err)
	}
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	// Health check, version and metrics routes
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")
	r.Handle("/metrics", h.MetricsHandler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", h.GetScanStatus).Methods("GET")
	api.HandleFunc("/scan/start", h.StartScan).Methods("POST")
	api.HandleFunc("/scan/cancel", h.CancelScan).Methods("POST")
	api.HandleFunc("/groups", h.ListGroups).Methods("GET")
	api.HandleFunc("/groups/{group}", h.GetGroup).Methods("GET")
	api.HandleFunc("/groups/{group}/previews/{position:[0-9]+}", h.GetPreview).Methods("GET")
	api.HandleFunc("/groups/{group}/cache", h.CachePreviews).Methods("POST", "DELETE")

	return r
}

func (a *app) handleShutdown(done chan<- struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())
	a.shutdown()
	close(done)
}

func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := a.srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Cancelling scan")
	a.engine.Cancel()
	if err := a.engine.Wait(ctx); err != nil {
		logging.Warn("Scan did not drain: %v", err)
	} else {
		startup.LogShutdownStepComplete("Scan stopped")
	}

	// Stops the watcher and closes the preview managers
	a.cancel()
	a.provider.Close()
	media.ShutdownVips()
	a.collector.Stop()
	a.monitor.Stop()

	// The run has drained before the flush so its cancelled save is the one
	// written.
	a.engine.Close()

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFlush()
	startup.LogShutdownStep("Flushing scan snapshot")
	if err := a.writer.Flush(flushCtx); err != nil {
		logging.Warn("Final snapshot save failed: %v", err)
	} else {
		startup.LogShutdownStepComplete("Scan snapshot saved")
	}

	if closer, ok := a.writer.Store().(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logging.Warn("Failed to close snapshot store: %v", err)
		}
	}

	startup.LogShutdownComplete()
}
