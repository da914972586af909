package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"photo-scanner/internal/asset"
	"photo-scanner/internal/filesystem"
	"photo-scanner/internal/imagecache"
	"photo-scanner/internal/logging"
	"photo-scanner/internal/metrics"
	"photo-scanner/internal/workers"

	"github.com/disintegration/imaging"
	"github.com/panjf2000/ants/v2"
)

// localItem is implemented by items stored on the local filesystem.
type localItem interface {
	LocalPath() (string, bool)
}

// Config configures a Provider.
type Config struct {
	// Cache stores final previews. Nil disables the disk cache and bulk
	// caching.
	Cache *ThumbnailCache
	// Workers bounds concurrent decodes. Zero picks a CPU-based default.
	Workers int
	// UseVips decodes local files with libvips when it is available.
	UseVips bool
	// Retry is used for local files when network access is allowed.
	Retry filesystem.RetryConfig
	// MaxPixels overrides MaxImagePixels when positive.
	MaxPixels int
}

type warmKey struct {
	id   string
	size imagecache.Size
}

// Provider decodes item bytes into previews. It implements
// imagecache.Provider.
type Provider struct {
	cache     *ThumbnailCache
	pool      *ants.Pool
	useVips   bool
	retry     filesystem.RetryConfig
	maxPixels int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	nextID imagecache.RequestID
	active map[imagecache.RequestID]context.CancelFunc
	warm   map[warmKey]context.CancelFunc
}

var _ imagecache.Provider = (*Provider)(nil)

// NewProvider creates a Provider.
func NewProvider(cfg Config) (*Provider, error) {
	size := cfg.Workers
	if size <= 0 {
		size = workers.ForCPU(0)
	}
	pool, err := workers.NewPool("thumbnail", size, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create thumbnail pool: %w", err)
	}

	maxPixels := cfg.MaxPixels
	if maxPixels <= 0 {
		maxPixels = MaxImagePixels
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		cache:     cfg.Cache,
		pool:      pool,
		useVips:   cfg.UseVips && IsVipsAvailable(),
		retry:     cfg.Retry,
		maxPixels: maxPixels,
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[imagecache.RequestID]context.CancelFunc),
		warm:      make(map[warmKey]context.CancelFunc),
	}
	logging.Info("Image provider started: workers=%d, vips=%v, cache=%v", size, p.useVips, p.cache != nil)
	return p, nil
}

// Request starts producing a preview of item. Requests that cannot be queued
// on the pool run on their own goroutine so that none are dropped.
func (p *Provider) Request(item asset.Item, size imagecache.Size, opts imagecache.Options, deliver func(imagecache.Delivery)) imagecache.RequestID {
	ctx, cancel := context.WithCancel(p.ctx)

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.active[id] = cancel
	pending := len(p.active)
	p.mu.Unlock()
	metrics.ImageRequestsPending.Set(float64(pending))

	task := func() {
		defer p.finish(id)
		p.serve(ctx, item, size, opts, deliver)
	}
	if err := p.pool.Submit(task); err != nil {
		if !errors.Is(err, ants.ErrPoolOverload) {
			logging.Debug("thumbnail pool rejected request %d: %v", id, err)
		}
		go task()
	}
	return id
}

// Cancel abandons a request. The request delivers Cancelled unless it has
// already finished.
func (p *Provider) Cancel(id imagecache.RequestID) {
	p.mu.Lock()
	cancel, ok := p.active[id]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// StartCaching renders missing previews for items into the disk cache. Items
// already being warmed are skipped, as are all items when the pool is full.
func (p *Provider) StartCaching(items []asset.Item, size imagecache.Size) {
	if p.cache == nil {
		metrics.ImageWarmupsTotal.WithLabelValues("skipped").Add(float64(len(items)))
		return
	}

	for _, item := range items {
		key := warmKey{id: item.ID(), size: size}

		p.mu.Lock()
		if _, busy := p.warm[key]; busy {
			p.mu.Unlock()
			continue
		}
		ctx, cancel := context.WithCancel(p.ctx)
		p.warm[key] = cancel
		p.mu.Unlock()

		task := func() {
			defer p.finishWarm(key)
			p.warmup(ctx, item, size)
		}
		if err := p.pool.Submit(task); err != nil {
			p.finishWarm(key)
			metrics.ImageWarmupsTotal.WithLabelValues("skipped").Inc()
		}
	}
}

// StopCaching cancels warmups started by StartCaching.
func (p *Provider) StopCaching(items []asset.Item, size imagecache.Size) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range items {
		if cancel, ok := p.warm[warmKey{id: item.ID(), size: size}]; ok {
			cancel()
		}
	}
}

// Close cancels all work and releases the pool.
func (p *Provider) Close() {
	p.cancel()
	p.pool.Release()
}

func (p *Provider) finish(id imagecache.RequestID) {
	p.mu.Lock()
	cancel, ok := p.active[id]
	delete(p.active, id)
	pending := len(p.active)
	p.mu.Unlock()
	metrics.ImageRequestsPending.Set(float64(pending))
	if ok {
		cancel()
	}
}

func (p *Provider) finishWarm(key warmKey) {
	p.mu.Lock()
	cancel, ok := p.warm[key]
	delete(p.warm, key)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Provider) serve(ctx context.Context, item asset.Item, size imagecache.Size, opts imagecache.Options, deliver func(imagecache.Delivery)) {
	cancelled := func() bool {
		if ctx.Err() != nil {
			deliver(imagecache.Delivery{Kind: imagecache.Cancelled})
			return true
		}
		return false
	}
	if cancelled() {
		return
	}

	if p.cache != nil && opts.Mode != imagecache.Fast {
		if img, ok := p.cache.Get(item.ID(), size); ok {
			metrics.ImageCacheHits.Inc()
			deliver(imagecache.Delivery{Kind: imagecache.Final, Image: img})
			return
		}
		metrics.ImageCacheMisses.Inc()
	}

	if opts.Mode == imagecache.HighQuality {
		if img, ok := p.vipsThumbnail(item, size); ok {
			p.store(item, size, img)
			deliver(imagecache.Delivery{Kind: imagecache.Final, Image: img})
			return
		}
	}

	src, err := p.decode(item, opts)
	if err != nil {
		if cancelled() {
			return
		}
		deliver(imagecache.Delivery{Kind: imagecache.Failed, Err: err})
		return
	}
	if cancelled() {
		return
	}

	switch opts.Mode {
	case imagecache.Fast:
		deliver(imagecache.Delivery{Kind: imagecache.Final, Image: render(src, size, imaging.Box, "fast")})
		return
	case imagecache.Opportunistic:
		deliver(imagecache.Delivery{Kind: imagecache.Degraded, Image: render(src, degradedSize(size), imaging.NearestNeighbor, "degraded")})
		if cancelled() {
			return
		}
	}

	img := render(src, size, imaging.Lanczos, "final")
	p.store(item, size, img)
	deliver(imagecache.Delivery{Kind: imagecache.Final, Image: img})
}

func (p *Provider) warmup(ctx context.Context, item asset.Item, size imagecache.Size) {
	status := "generated"
	defer func() {
		metrics.ImageWarmupsTotal.WithLabelValues(status).Inc()
	}()

	if ctx.Err() != nil {
		status = "cancelled"
		return
	}
	if p.cache.Has(item.ID(), size) {
		status = "skipped"
		return
	}

	img, ok := p.vipsThumbnail(item, size)
	if !ok {
		src, err := p.decode(item, imagecache.Options{NetworkAllowed: true})
		if err != nil {
			logging.Debug("Warmup of %s failed: %v", item.ID(), err)
			status = "failed"
			return
		}
		if ctx.Err() != nil {
			status = "cancelled"
			return
		}
		img = render(src, size, imaging.Lanczos, "final")
	}
	if err := p.cache.Put(item.ID(), size, img); err != nil {
		logging.Warn("failed to cache thumbnail for %s: %v", item.ID(), err)
		status = "failed"
	}
}

func (p *Provider) store(item asset.Item, size imagecache.Size, img image.Image) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Put(item.ID(), size, img); err != nil {
		logging.Warn("failed to cache thumbnail for %s: %v", item.ID(), err)
	}
}

// decode reads the full image. Local files are opened with retries when
// network access is allowed, so that stale NFS handles are recovered.
func (p *Provider) decode(item asset.Item, opts imagecache.Options) (image.Image, error) {
	open := item.Open
	if path, ok := p.localPath(item); ok {
		retry := filesystem.NoRetry()
		if opts.NetworkAllowed {
			retry = p.retry
		}
		open = func() (io.ReadCloser, error) {
			return filesystem.OpenWithRetry(path, retry)
		}
	}
	return decodeConstrained(open, p.maxPixels)
}

func (p *Provider) vipsThumbnail(item asset.Item, size imagecache.Size) (image.Image, bool) {
	if !p.useVips {
		return nil, false
	}
	path, ok := p.localPath(item)
	if !ok {
		return nil, false
	}
	img, err := thumbnailWithVips(path, size.Width, size.Height)
	if err != nil {
		logging.Debug("vips thumbnail failed for %s, falling back: %v", item.ID(), err)
		return nil, false
	}
	return img, true
}

func (p *Provider) localPath(item asset.Item) (string, bool) {
	if l, ok := item.(localItem); ok {
		return l.LocalPath()
	}
	return "", false
}
