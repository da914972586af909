package scan

import (
	"context"
	"time"

	"photo-scanner/internal/workers"
)

// Defaults for Engine options.
const (
	DefaultBatchSize       = 100
	DefaultPublishInterval = 100 * time.Millisecond
	DefaultSaveInterval    = 1000 * time.Millisecond
)

// Throttle pauses workers while the process is under memory pressure.
type Throttle interface {
	// WaitIfPausedContext blocks while paused. It returns false if the
	// throttle was stopped or ctx was done while waiting.
	WaitIfPausedContext(ctx context.Context) bool
}

type options struct {
	workers         int
	batchSize       int
	publishInterval time.Duration
	saveInterval    time.Duration
	now             func() time.Time
	throttle        Throttle
}

func defaultOptions() options {
	return options{
		workers:         workers.ForMixed(0),
		batchSize:       DefaultBatchSize,
		publishInterval: DefaultPublishInterval,
		saveInterval:    DefaultSaveInterval,
		now:             time.Now,
	}
}

// Option configures an Engine.
type Option func(*options)

// WithWorkers sets the worker pool size. Values below one are ignored.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithBatchSize sets how many items one worker classifies before merging.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithPublishInterval sets the minimum time between publications while a
// run is in progress.
func WithPublishInterval(d time.Duration) Option {
	return func(o *options) { o.publishInterval = d }
}

// WithSaveInterval sets the minimum time between saves while a run is in
// progress.
func WithSaveInterval(d time.Duration) Option {
	return func(o *options) { o.saveInterval = d }
}

// WithClock replaces the time source used for throttling.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithThrottle makes workers wait while t reports memory pressure.
func WithThrottle(t Throttle) Option {
	return func(o *options) { o.throttle = t }
}
