// Package media produces preview images for library items.
//
// Provider implements imagecache.Provider. Requests run on a goroutine pool
// and are cancelled through a context. In opportunistic mode a quick
// nearest-neighbour preview is delivered before the final Lanczos-filtered
// image; high-quality mode delivers only the final image and fast mode a
// single box-filtered one.
//
// Final previews are kept in a disk cache of JPEG files keyed by item and
// size, which StartCaching fills ahead of time. When libvips is enabled,
// local files are decoded with decode-time shrinking instead of a full
// decode followed by a resize.
package media
