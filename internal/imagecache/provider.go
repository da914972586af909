package imagecache

import (
	"image"

	"photo-scanner/internal/asset"
)

// DeliveryKind tags a Delivery.
type DeliveryKind int

// Delivery kinds.
const (
	Degraded DeliveryKind = iota
	Final
	Cancelled
	Failed
)

func (k DeliveryKind) String() string {
	switch k {
	case Degraded:
		return "degraded"
	case Final:
		return "final"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Delivery is one result of a provider request. Image is set for Degraded
// and Final, Err for Failed.
type Delivery struct {
	Kind  DeliveryKind
	Image image.Image
	Err   error
}

// DeliveryMode selects how a provider trades speed for quality.
type DeliveryMode int

// Delivery modes.
const (
	// Opportunistic delivers a degraded preview first, then the final image.
	Opportunistic DeliveryMode = iota
	// HighQuality delivers only the final image.
	HighQuality
	// Fast delivers a single quickly produced image.
	Fast
)

func (m DeliveryMode) String() string {
	switch m {
	case Opportunistic:
		return "opportunistic"
	case HighQuality:
		return "high-quality"
	case Fast:
		return "fast"
	default:
		return "unknown"
	}
}

// Options are passed with every request.
type Options struct {
	Mode DeliveryMode
	// NetworkAllowed lets the provider read from slow or remote storage.
	NetworkAllowed bool
}

// Size is a target bounding box in pixels.
type Size struct {
	Width  int
	Height int
}

// RequestID identifies an outstanding provider request.
type RequestID uint64

// Provider produces images for items asynchronously.
type Provider interface {
	// Request starts producing an image of item fitting size. deliver may
	// be called any number of times, from any goroutine, including before
	// Request returns.
	Request(item asset.Item, size Size, opts Options, deliver func(Delivery)) RequestID

	// Cancel abandons a request. Unknown or finished IDs are ignored.
	Cancel(id RequestID)

	// StartCaching hints that items will be requested soon.
	StartCaching(items []asset.Item, size Size)

	// StopCaching withdraws a StartCaching hint.
	StopCaching(items []asset.Item, size Size)
}
