package media

import (
	"bytes"
	"crypto/md5" //nolint:gosec // MD5 used for cache key generation, not security
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"photo-scanner/internal/imagecache"
	"photo-scanner/internal/logging"

	"github.com/spf13/afero"
)

// ThumbnailCache stores final previews as JPEG files.
type ThumbnailCache struct {
	fs      afero.Fs
	dir     string
	quality int
}

// NewThumbnailCache creates a cache in dir on fs, creating dir if needed.
func NewThumbnailCache(fs afero.Fs, dir string) (*ThumbnailCache, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail cache dir: %w", err)
	}
	logging.Debug("Thumbnail cache dir: %s", dir)
	return &ThumbnailCache{fs: fs, dir: dir, quality: 85}, nil
}

// Dir returns the cache directory.
func (c *ThumbnailCache) Dir() string { return c.dir }

func (c *ThumbnailCache) path(itemID string, size imagecache.Size) string {
	hash := md5.Sum([]byte(fmt.Sprintf("%s@%dx%d", itemID, size.Width, size.Height))) //nolint:gosec // cache key only
	return filepath.Join(c.dir, fmt.Sprintf("%x.jpg", hash))
}

// Has reports whether a preview is cached.
func (c *ThumbnailCache) Has(itemID string, size imagecache.Size) bool {
	_, err := c.fs.Stat(c.path(itemID, size))
	return err == nil
}

// Get returns the cached preview, if any. Unreadable entries are removed.
func (c *ThumbnailCache) Get(itemID string, size imagecache.Size) (image.Image, bool) {
	p := c.path(itemID, size)
	data, err := afero.ReadFile(c.fs, p)
	if err != nil {
		return nil, false
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		logging.Warn("Removing unreadable cached thumbnail %s: %v", p, err)
		if rmErr := c.fs.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			logging.Warn("failed to remove cached thumbnail %s: %v", p, rmErr)
		}
		return nil, false
	}
	return img, true
}

// Put encodes img and stores it, replacing any previous entry.
func (c *ThumbnailCache) Put(itemID string, size imagecache.Size, img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	p := c.path(itemID, size)
	tmp := p + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	if err := c.fs.Rename(tmp, p); err != nil {
		_ = c.fs.Remove(tmp)
		return fmt.Errorf("failed to store thumbnail: %w", err)
	}
	return nil
}
