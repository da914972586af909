package handlers

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"photo-scanner/internal/classifier"
	"photo-scanner/internal/scan"
)

// Scanner is the part of scan.Engine the handlers drive.
type Scanner interface {
	Start(ctx context.Context, reset bool) error
	Cancel()
	Running() bool
	State() *scan.State
}

// Previews is the part of imagecache.Manager the preview handlers drive.
type Previews interface {
	Len() int
	Preload(visible []int)
	Image(pos int) (img image.Image, degraded bool, ok bool)
	StartBulkCache(positions []int)
	StopBulkCache(positions []int)
}

// Handlers serves the scanner API.
type Handlers struct {
	// ctx outlives requests; runs started over HTTP are bound to it.
	ctx       context.Context
	scanner   Scanner
	groups    []classifier.Group
	previews  map[string]Previews
	startTime time.Time
	ready     atomic.Bool
}

// New creates Handlers. Scans started through the API are cancelled when ctx
// is done. groups is the classifier's group order used in listings; previews
// maps group labels to their preview managers and may be nil.
func New(ctx context.Context, scanner Scanner, groups []classifier.Group, previews map[string]Previews) *Handlers {
	return &Handlers{
		ctx:       ctx,
		scanner:   scanner,
		groups:    append([]classifier.Group(nil), groups...),
		previews:  previews,
		startTime: time.Now(),
	}
}

// SetReady marks the service ready once the previous state has been restored.
func (h *Handlers) SetReady() {
	h.ready.Store(true)
}
