package media

import (
	"fmt"
	"image"
	"io"
	"time"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"photo-scanner/internal/imagecache"
	"photo-scanner/internal/logging"
	"photo-scanner/internal/metrics"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP format support
)

// MaxImagePixels is the largest image decoded in full. A 100MP image needs
// about 400MB as RGBA.
const MaxImagePixels = 100_000_000

// decodeConstrained decodes the image behind open, refusing images whose
// header declares more than maxPixels. open is called once for the header
// and once for the pixels.
func decodeConstrained(open func() (io.ReadCloser, error), maxPixels int) (image.Image, error) {
	rc, err := open()
	if err != nil {
		return nil, err
	}
	cfg, format, cfgErr := image.DecodeConfig(rc)
	closeQuietly(rc)

	if cfgErr == nil {
		if pixels := cfg.Width * cfg.Height; pixels > maxPixels {
			return nil, fmt.Errorf("%s image too large: %dx%d", format, cfg.Width, cfg.Height)
		}
	} else {
		logging.Debug("Could not read image header: %v, decoding anyway", cfgErr)
	}

	rc, err = open()
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rc)

	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// render scales src to fit size with filter and records how long it took.
func render(src image.Image, size imagecache.Size, filter imaging.ResampleFilter, quality string) image.Image {
	start := time.Now()
	out := imaging.Fit(src, max(size.Width, 1), max(size.Height, 1), filter)
	metrics.ImageDecodeDuration.WithLabelValues(quality).Observe(time.Since(start).Seconds())
	return out
}

// degradedSize is the size of the quick preview sent before the final image.
func degradedSize(size imagecache.Size) imagecache.Size {
	return imagecache.Size{Width: max(size.Width/4, 1), Height: max(size.Height/4, 1)}
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		logging.Debug("close failed: %v", err)
	}
}
