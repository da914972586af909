package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"photo-scanner/internal/asset"
	"photo-scanner/internal/classifier"
	"photo-scanner/internal/handlers"
	"photo-scanner/internal/imagecache"
	"photo-scanner/internal/media"
	"photo-scanner/internal/memory"
	"photo-scanner/internal/metrics"
	"photo-scanner/internal/persistence"
	"photo-scanner/internal/scan"

	"github.com/spf13/afero"
)

// nopProvider never delivers.
type nopProvider struct{}

func (nopProvider) Request(asset.Item, imagecache.Size, imagecache.Options, func(imagecache.Delivery)) imagecache.RequestID {
	return 1
}
func (nopProvider) Cancel(imagecache.RequestID)                {}
func (nopProvider) StartCaching([]asset.Item, imagecache.Size) {}
func (nopProvider) StopCaching([]asset.Item, imagecache.Size)  {}

func newTestEngine(t *testing.T) (*scan.Engine, *classifier.ModuloClassifier) {
	t.Helper()
	items := []asset.Item{
		&asset.MemoryItem{Identifier: "a", Data: []byte("a")},
		&asset.MemoryItem{Identifier: "b", Data: []byte("b")},
	}
	cls := classifier.Default()
	e, err := scan.NewEngine(asset.NewMemorySource(items...), cls, nil, nil, scan.WithWorkers(1))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e, cls
}

func TestSetupRouter(t *testing.T) {
	e, cls := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	previews, _ := newPreviews(ctx, e.State(), cls.Groups(), nopProvider{})
	h := handlers.New(ctx, e, cls.Groups(), previews)
	h.SetReady()
	router := setupRouter(h)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{method: http.MethodGet, path: "/healthz", want: http.StatusOK},
		{method: http.MethodGet, path: "/livez", want: http.StatusOK},
		{method: http.MethodHead, path: "/livez", want: http.StatusOK},
		{method: http.MethodGet, path: "/readyz", want: http.StatusOK},
		{method: http.MethodGet, path: "/version", want: http.StatusOK},
		{method: http.MethodGet, path: "/metrics", want: http.StatusOK},
		{method: http.MethodGet, path: "/api/scan", want: http.StatusOK},
		{method: http.MethodGet, path: "/api/groups", want: http.StatusOK},
		{method: http.MethodGet, path: "/api/groups/A", want: http.StatusOK},
		{method: http.MethodGet, path: "/api/groups/others", want: http.StatusOK},
		{method: http.MethodGet, path: "/api/groups/Z", want: http.StatusNotFound},
		{method: http.MethodGet, path: "/api/groups/A/previews/0", want: http.StatusNotFound},
		{method: http.MethodGet, path: "/api/groups/A/previews/x", want: http.StatusNotFound},
		{method: http.MethodPost, path: "/api/groups/A/cache", want: http.StatusAccepted},
		{method: http.MethodPost, path: "/api/scan/cancel", want: http.StatusOK},
		{method: http.MethodGet, path: "/api/scan/start", want: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
			}
		})
	}
}

func TestStartThroughRouter(t *testing.T) {
	e, cls := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	router := setupRouter(handlers.New(ctx, e, cls.Groups(), nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/scan/start?reset=true", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("start = %d, want 202", w.Code)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := e.Wait(waitCtx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := e.State().Snapshot().Processed; got != 2 {
		t.Errorf("processed = %d, want 2", got)
	}
}

func TestNewPreviewsFollowsGroups(t *testing.T) {
	e, cls := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	previews, pending := newPreviews(ctx, e.State(), cls.Groups(), nopProvider{})
	if len(previews) != len(cls.Groups())+1 {
		t.Fatalf("previews = %d managers, want one per group plus others", len(previews))
	}
	if _, ok := previews[scan.OthersLabel]; !ok {
		t.Error("no manager for the overflow group")
	}

	if err := e.Start(ctx, false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := e.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	// Every classified item eventually appears in exactly one manager.
	deadline := time.Now().Add(5 * time.Second)
	for {
		total := 0
		for _, p := range previews {
			total += p.Len()
		}
		if total == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("managers hold %d items, want 2", total)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Only the first group loads eagerly, and nopProvider never finishes.
	first := previews[string(cls.Groups()[0])]
	if pending() != min(first.Len(), imagecache.DefaultInitialLoad) {
		t.Errorf("pending = %d, want %d", pending(), min(first.Len(), imagecache.DefaultInitialLoad))
	}
}

// heldThrottle keeps every batch paused until the scan gives up on it.
type heldThrottle struct{ waiting chan struct{} }

func (h *heldThrottle) WaitIfPausedContext(ctx context.Context) bool {
	select {
	case h.waiting <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return false
}

func TestShutdownSavesThrottledRun(t *testing.T) {
	items := make([]asset.Item, 250)
	for i := range items {
		id := fmt.Sprintf("img-%03d", i)
		items[i] = &asset.MemoryItem{Identifier: id, Data: []byte(id)}
	}

	store := persistence.NewJSONStore(afero.NewMemMapFs(), "/data/scanData.json")
	writer := persistence.NewWriter(store)
	throttle := &heldThrottle{waiting: make(chan struct{}, 1)}
	engine, err := scan.NewEngine(asset.NewMemorySource(items...), classifier.Default(), store, writer,
		scan.WithThrottle(throttle), scan.WithWorkers(2))
	if err != nil {
		t.Fatal(err)
	}
	provider, err := media.NewProvider(media.Config{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &app{
		cancel:    cancel,
		srv:       &http.Server{},
		engine:    engine,
		writer:    writer,
		provider:  provider,
		collector: metrics.NewCollector(metrics.StatsFunc(func() metrics.Stats { return metrics.Stats{} }), time.Hour),
		monitor:   memory.NewMonitor(memory.Config{}),
	}

	if err := engine.Start(ctx, false); err != nil {
		t.Fatal(err)
	}
	<-throttle.waiting

	start := time.Now()
	a.shutdown()
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("shutdown took %v with a throttled scan", elapsed)
	}

	saved, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() after shutdown error = %v", err)
	}
	if saved.Total != len(items) || saved.Processed != 0 {
		t.Errorf("saved processed=%d total=%d, want 0/%d", saved.Processed, saved.Total, len(items))
	}
}
